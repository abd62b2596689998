package repository

import (
	"errors"
	"fmt"

	"gorm.io/gorm"

	"infosec-rag/internal/model"
)

type APIClientRepository struct {
	db *gorm.DB
}

func NewAPIClientRepository(db *gorm.DB) *APIClientRepository {
	return &APIClientRepository{db: db}
}

func (r *APIClientRepository) Create(client *model.APIClient) error {
	if err := r.db.Create(client).Error; err != nil {
		return fmt.Errorf("create api client failed: %w", err)
	}
	return nil
}

func (r *APIClientRepository) GetByName(name string) (*model.APIClient, error) {
	var client model.APIClient
	if err := r.db.Where("name = ?", name).First(&client).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("query api client by name failed: %w", err)
	}
	return &client, nil
}

func (r *APIClientRepository) GetByID(id uint) (*model.APIClient, error) {
	var client model.APIClient
	if err := r.db.First(&client, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("query api client by id failed: %w", err)
	}
	return &client, nil
}
