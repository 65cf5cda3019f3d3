// Package matching learns which category a bank description belongs to.
package matching

import (
	"errors"
	"strings"
)

var ErrEmptyRule = errors.New("pattern and category are required")

// Rule maps every description containing Pattern to Category.
type Rule struct {
	Pattern  string `json:"pattern"`
	Category string `json:"category"`
}

type Repository interface {
	FindMatch(description string) (string, error)
	CreateMapping(pattern, category string) error
	Rules() ([]Rule, error)
}

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Suggest returns the category learned for description, or "" when none matches.
func (s *Service) Suggest(description string) (string, error) {
	if strings.TrimSpace(description) == "" {
		return "", nil
	}

	return s.repo.FindMatch(description)
}

// Learn remembers that descriptions containing pattern belong to category.
func (s *Service) Learn(pattern, category string) error {
	pattern = strings.TrimSpace(pattern)
	category = strings.TrimSpace(category)

	if pattern == "" || category == "" {
		return ErrEmptyRule
	}

	return s.repo.CreateMapping(pattern, category)
}

func (s *Service) Rules() ([]Rule, error) {
	return s.repo.Rules()
}
