package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/demostore/storegate/internal/identity"
	"github.com/demostore/storegate/pkg/models"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Conf contains Postgres configuration fields.
type Conf struct {
	Host     string        `json:"host"`
	Port     int           `json:"port"`
	User     string        `json:"user"`
	Password string        `json:"password"`
	DBName   string        `json:"dbname"`
	SSLMode  string        `json:"ssl_mode"`
	Timeout  time.Duration `json:"timeout"`
}

// customer maps the commerce platform's customer table.
type customer struct {
	ID         string `gorm:"primaryKey;column:id"`
	Email      string `gorm:"column:email;index"`
	Phone      string `gorm:"column:phone;index"`
	HasAccount bool   `gorm:"column:has_account"`
}

func (customer) TableName() string {
	return "customers"
}

// credential maps the password credential row keyed by the customer's
// e-mail (the "emailpass" identity).
type credential struct {
	Email        string    `gorm:"primaryKey;column:email"`
	PasswordHash string    `gorm:"column:password_hash"`
	UpdatedAt    time.Time `gorm:"column:updated_at"`
}

func (credential) TableName() string {
	return "auth_credentials"
}

// Postgres implements identity.Provider on the commerce database.
type Postgres struct {
	db *gorm.DB
}

// New connects to Postgres and returns an identity provider.
func New(c Conf) (*Postgres, error) {
	if c.SSLMode == "" {
		c.SSLMode = "disable"
	}

	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("error connecting to postgres: %w", err)
	}

	return &Postgres{db: db}, nil
}

// ByPhone returns the customer registered with a phone number.
func (p *Postgres) ByPhone(ctx context.Context, phone string) (models.Customer, error) {
	var c customer
	err := p.db.WithContext(ctx).Where("phone = ?", phone).First(&c).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.Customer{}, identity.ErrNotExist
		}
		return models.Customer{}, err
	}
	return toModel(c), nil
}

// ByEmail returns the customer registered with an e-mail address.
func (p *Postgres) ByEmail(ctx context.Context, email string) (models.Customer, error) {
	var c customer
	err := p.db.WithContext(ctx).Where("email = ?", email).First(&c).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.Customer{}, identity.ErrNotExist
		}
		return models.Customer{}, err
	}
	return toModel(c), nil
}

// SetPassword rewrites the password credential for the customer
// identified by e-mail. The update runs inside a transaction so a
// partial write can't leave the credential row torn.
func (p *Postgres) SetPassword(ctx context.Context, email, password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("error hashing password: %w", err)
	}

	return p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&credential{}).Where("email = ?", email).Updates(map[string]interface{}{
			"password_hash": string(hash),
			"updated_at":    time.Now(),
		})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return tx.Create(&credential{
				Email:        email,
				PasswordHash: string(hash),
				UpdatedAt:    time.Now(),
			}).Error
		}
		return nil
	})
}

// Ping checks if the database is reachable.
func (p *Postgres) Ping(ctx context.Context) error {
	db, err := p.db.DB()
	if err != nil {
		return err
	}
	return db.PingContext(ctx)
}

func toModel(c customer) models.Customer {
	return models.Customer{
		ID:         c.ID,
		Email:      c.Email,
		Phone:      c.Phone,
		HasAccount: c.HasAccount,
	}
}
