package domain

import "time"

type CRMLeadStatus string

const (
	CRMLeadStatusNew       CRMLeadStatus = "new"
	CRMLeadStatusQualified CRMLeadStatus = "qualified"
)

type PipelineStage struct {
	ID               string
	PipelineID       string
	Name             string
	Order            int
	CloseProbability float64
	Closed           bool
	Won              bool
}

// SalesPipeline is a user's funnel of ordered stages.
type SalesPipeline struct {
	ID        string
	UserID    string
	Name      string
	IsDefault bool
	Stages    []PipelineStage
	CreatedAt time.Time
}

// EntryStage returns the stage with order 1.
func (p *SalesPipeline) EntryStage() (PipelineStage, bool) {
	for _, stage := range p.Stages {
		if stage.Order == 1 {
			return stage, true
		}
	}
	return PipelineStage{}, false
}

// CRMLead is the sales-pipeline record created when a lead is promoted.
type CRMLead struct {
	ID           string
	UserID       string
	SourceLeadID string
	PipelineID   string
	StageID      string
	Name         string
	Email        string
	Company      string
	Status       CRMLeadStatus
	Score        int
	Tier         Tier
	CreatedAt    time.Time
}
