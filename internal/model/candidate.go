package model

import (
	"strconv"
	"strings"
)

// CandidateRecord is a resume as produced by the candidate-source service.
// Fields beyond ID and PersonName are carried through untouched.
type CandidateRecord struct {
	ID              int             `json:"id" yaml:"id"`
	PersonName      string          `json:"person_name" yaml:"person_name"`
	Headline        string          `json:"headline,omitempty" yaml:"headline,omitempty"`
	Location        string          `json:"location,omitempty" yaml:"location,omitempty"`
	Summary         string          `json:"summary,omitempty" yaml:"summary,omitempty"`
	TelephoneNumber string          `json:"telephone_number,omitempty" yaml:"telephone_number,omitempty"`
	ContactEmail    string          `json:"contact_email" yaml:"contact_email"`
	Skills          []string        `json:"skills" yaml:"skills"`
	Languages       []string        `json:"languages" yaml:"languages"`
	WorkExperience  []Position      `json:"work_experience" yaml:"work_experience"`
	Education       []EducationInfo `json:"education" yaml:"education"`
	RevisionDate    string          `json:"revision_date,omitempty" yaml:"revision_date,omitempty"`
}

// Position is one entry of a candidate's work history.
type Position struct {
	CompanyName   string `json:"company_name" yaml:"company_name"`
	PositionTitle string `json:"position_title" yaml:"position_title"`
	StartDate     string `json:"start_date" yaml:"start_date"`
	EndDate       string `json:"end_date" yaml:"end_date"`
}

// EducationInfo is one entry of a candidate's education history.
type EducationInfo struct {
	InstitutionName string `json:"institution_name" yaml:"institution_name"`
	DegreeName      string `json:"degree_name" yaml:"degree_name"`
	EducationLevel  string `json:"education_level,omitempty" yaml:"education_level,omitempty"`
	StartYear       *int   `json:"start_year,omitempty" yaml:"start_year,omitempty"`
	EndYear         *int   `json:"end_year,omitempty" yaml:"end_year,omitempty"`
}

// Truncated returns the short "<id> <name>" form shown to the conversational layer.
func (c CandidateRecord) Truncated() string {
	return strings.Join([]string{strconv.Itoa(c.ID), c.PersonName}, " ")
}

// HasSkill reports whether the candidate lists skill, ignoring case.
func (c CandidateRecord) HasSkill(skill string) bool {
	for _, s := range c.Skills {
		if strings.EqualFold(strings.TrimSpace(s), strings.TrimSpace(skill)) {
			return true
		}
	}
	return false
}
