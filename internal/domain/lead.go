package domain

import "time"

type Tier string

const (
	TierHot      Tier = "HOT"
	TierWarm     Tier = "WARM"
	TierCold     Tier = "COLD"
	TierDiscard  Tier = "DISCARD"
	TierUnscored Tier = "UNSCORED"
)

// Promotable reports whether leads of this tier may enter the sales pipeline.
func (t Tier) Promotable() bool {
	return t == TierHot || t == TierWarm
}

// Signals holds personalization evidence extracted once when a lead is ingested.
type Signals struct {
	TechStack []string `json:"tech_stack"`
	Intent    []string `json:"intent"`
}

type Lead struct {
	ID              string
	GroupID         string
	UserID          string
	Name            string
	Email           string
	Company         string
	Industry        string
	CompanySize     string
	PainPoints      []string
	Notes           string
	Signals         Signals
	Score           int
	Tier            Tier
	PromotedToCRMID string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (l *Lead) Clone() *Lead {
	if l == nil {
		return nil
	}
	cp := *l
	cp.PainPoints = append([]string(nil), l.PainPoints...)
	cp.Signals.TechStack = append([]string(nil), l.Signals.TechStack...)
	cp.Signals.Intent = append([]string(nil), l.Signals.Intent...)
	return &cp
}

// LeadGroup is the batch of leads produced by one analysis run.
type LeadGroup struct {
	ID        string
	JobID     string
	UserID    string
	CreatedAt time.Time
}

// TargetProfile describes the customers a user is looking for.
type TargetProfile struct {
	UserID      string
	Industries  []string
	CompanySize string
	PainPoints  []string
	UpdatedAt   time.Time
}

type TierCounts struct {
	Scored  int `json:"scored"`
	Hot     int `json:"hot"`
	Warm    int `json:"warm"`
	Cold    int `json:"cold"`
	Discard int `json:"discard"`
}

func (c *TierCounts) Add(t Tier) {
	c.Scored++
	switch t {
	case TierHot:
		c.Hot++
	case TierWarm:
		c.Warm++
	case TierCold:
		c.Cold++
	case TierDiscard:
		c.Discard++
	}
}
