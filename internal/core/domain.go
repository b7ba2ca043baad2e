package core

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	Daily   Period = "daily"
	Weekly  Period = "weekly"
	Monthly Period = "monthly"
)

const (
	Savings RecordKind = "savings"
	Expense RecordKind = "expense"
)

const (
	CategoryFood          Category = "음식"
	CategoryTransport     Category = "교통"
	CategoryShopping      Category = "쇼핑"
	CategoryEntertainment Category = "엔터테인먼트"
	CategoryOther         Category = "기타"
)

const (
	RuleCategoryAmount RuleKind = "category_amount"
	RuleTotalAmount    RuleKind = "total_amount"
	RuleStreak         RuleKind = "streak"
)

type (
	Period     string
	RecordKind string
	Category   string
	RuleKind   string

	// Won is an amount in Korean won. There is no minor unit.
	Won int64

	Record struct {
		ID        int64     `json:"id"`
		OwnerID   int64     `json:"ownerId"`
		ItemName  string    `json:"itemName"`
		Amount    Won       `json:"amount"`
		Category  Category  `json:"category"`
		Memo      string    `json:"memo,omitempty"`
		CreatedAt Timestamp `json:"createdAt"`
	}

	// RecordInput is what the record page submits.
	RecordInput struct {
		UserID   int64    `json:"userId"`
		ItemName string   `json:"itemName"`
		Amount   Won      `json:"amount"`
		Category Category `json:"category"`
		Memo     string   `json:"memo,omitempty"`
	}

	Challenge struct {
		ID           string   `json:"id" yaml:"id"`
		Title        string   `json:"title" yaml:"title"`
		Description  string   `json:"description" yaml:"description"`
		Icon         string   `json:"icon,omitempty" yaml:"icon"`
		Category     Category `json:"category,omitempty" yaml:"category"`
		TargetAmount Won      `json:"targetAmount" yaml:"target_amount"`
		RequiredDays int      `json:"requiredDays,omitempty" yaml:"required_days"`
		Period       Period   `json:"period" yaml:"period"`
		RewardAmount Won      `json:"rewardAmount" yaml:"reward_amount"`
		Kind         RuleKind `json:"rule,omitempty" yaml:"rule"`
	}

	CompletionRecord struct {
		ID             string    `json:"id"`
		UserID         int64     `json:"userId"`
		ChallengeID    string    `json:"challengeId"`
		ChallengeTitle string    `json:"challengeTitle"`
		Period         Period    `json:"period"`
		Instance       string    `json:"instance"`
		RewardAmount   Won       `json:"rewardAmount"`
		CompletedAt    time.Time `json:"completedAt"`
		SyncStatus     string    `json:"syncStatus,omitempty"`
	}

	User struct {
		ID            int64  `json:"id"`
		Email         string `json:"email"`
		Nickname      string `json:"nickname"`
		Username      string `json:"username"`
		Picture       string `json:"picture,omitempty"`
		LoginType     string `json:"loginType,omitempty"`
		Role          string `json:"role,omitempty"`
		Level         int    `json:"level"`
		Experience    int    `json:"experience"`
		TotalSavings  Won    `json:"totalSavings"`
		MonthlyTarget Won    `json:"monthlyTarget"`
	}
)

var (
	ErrInvalidAmount   = errors.New("invalid amount")
	ErrInvalidCategory = errors.New("invalid category")
	ErrInvalidPeriod   = errors.New("invalid period")
	ErrEmptyItemName   = errors.New("empty item name")
	ErrEmptyChallenge  = errors.New("empty challenge id")
)

var categories = []Category{
	CategoryFood,
	CategoryTransport,
	CategoryShopping,
	CategoryEntertainment,
	CategoryOther,
}

// Categories returns the closed category set in display order.
func Categories() []Category {
	return append([]Category(nil), categories...)
}

func (c Category) Valid() bool {
	for _, v := range categories {
		if c == v {
			return true
		}
	}
	return false
}

func (p Period) Valid() bool {
	switch p {
	case Daily, Weekly, Monthly:
		return true
	}
	return false
}

func (k RecordKind) Valid() bool {
	return k == Savings || k == Expense
}

func (w Won) Validate() error {
	if w <= 0 {
		return ErrInvalidAmount
	}
	return nil
}

func (in RecordInput) Validate() error {
	if err := in.Amount.Validate(); err != nil {
		return err
	}
	if len(strings.TrimSpace(in.ItemName)) == 0 {
		return ErrEmptyItemName
	}
	if len(in.ItemName) > 100 {
		return errors.New("item name too long (max 100 characters)")
	}
	if !in.Category.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidCategory, in.Category)
	}
	if len(in.Memo) > 500 {
		return errors.New("memo too long (max 500 characters)")
	}
	return nil
}

// Rule resolves which aggregate governs the challenge. An explicit rule
// wins; a challenge with neither category nor amount but a day count is a
// streak.
func (c Challenge) Rule() RuleKind {
	if c.Kind != "" {
		return c.Kind
	}
	if c.Category == "" && c.TargetAmount == 0 && c.RequiredDays > 0 {
		return RuleStreak
	}
	if c.Category != "" {
		return RuleCategoryAmount
	}
	return RuleTotalAmount
}

func (c Challenge) Validate() error {
	if strings.TrimSpace(c.ID) == "" {
		return ErrEmptyChallenge
	}
	if !c.Period.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidPeriod, c.Period)
	}
	if c.TargetAmount < 0 {
		return ErrInvalidAmount
	}
	switch c.Rule() {
	case RuleStreak:
		if c.RequiredDays <= 0 {
			return errors.New("streak challenge needs required days")
		}
	case RuleCategoryAmount:
		if !c.Category.Valid() {
			return fmt.Errorf("%w: %q", ErrInvalidCategory, c.Category)
		}
	case RuleTotalAmount:
	default:
		return fmt.Errorf("unknown challenge rule %q", c.Kind)
	}
	return nil
}
