package server

import (
	"expertdraw/internal/domain"
	"expertdraw/internal/engine"
)

// Request payloads

type CreateDrawRequest struct {
	Category       string   `json:"category,omitempty"`
	Subcategory    string   `json:"subcategory,omitempty"`
	Specialty      string   `json:"specialty,omitempty"`
	ProjectName    string   `json:"project_name,omitempty"`
	ProjectCode    string   `json:"project_code,omitempty"`
	ExpertCount    int      `json:"expert_count" minimum:"1" maximum:"10000"`
	BackupCount    int      `json:"backup_count,omitempty" minimum:"0" maximum:"10000"`
	DrawMethod     string   `json:"draw_method,omitempty" enum:"random,lottery,weighted,uniform-random"`
	Titles         []string `json:"titles,omitempty"`
	Regions        []string `json:"regions,omitempty"`
	Specialties    []string `json:"specialties,omitempty"`
	AvoidEnabled   *bool    `json:"avoid_enabled,omitempty"`
	AvoidUnits     string   `json:"avoid_units,omitempty"`
	AvoidPersons   string   `json:"avoid_persons,omitempty"`
	ReviewTime     string   `json:"review_time,omitempty" format:"date-time"`
	ReviewLocation string   `json:"review_location,omitempty"`
	RuleID         string   `json:"rule_id,omitempty"`
}

func (r CreateDrawRequest) input() engine.DrawInput {
	return engine.DrawInput{
		Category:       r.Category,
		Subcategory:    r.Subcategory,
		Specialty:      r.Specialty,
		ProjectName:    r.ProjectName,
		ProjectCode:    r.ProjectCode,
		ExpertCount:    r.ExpertCount,
		BackupCount:    r.BackupCount,
		DrawMethod:     r.DrawMethod,
		Titles:         r.Titles,
		Regions:        r.Regions,
		Specialties:    r.Specialties,
		AvoidEnabled:   r.AvoidEnabled,
		AvoidUnits:     r.AvoidUnits,
		AvoidPersons:   r.AvoidPersons,
		ReviewTime:     r.ReviewTime,
		ReviewLocation: r.ReviewLocation,
		RuleID:         r.RuleID,
	}
}

type UpdateDrawRequest struct {
	Category       *string   `json:"category,omitempty"`
	Subcategory    *string   `json:"subcategory,omitempty"`
	Specialty      *string   `json:"specialty,omitempty"`
	ProjectName    *string   `json:"project_name,omitempty"`
	ProjectCode    *string   `json:"project_code,omitempty"`
	ExpertCount    *int      `json:"expert_count,omitempty" minimum:"1" maximum:"10000"`
	BackupCount    *int      `json:"backup_count,omitempty" minimum:"0" maximum:"10000"`
	DrawMethod     *string   `json:"draw_method,omitempty"`
	Titles         *[]string `json:"titles,omitempty"`
	Regions        *[]string `json:"regions,omitempty"`
	Specialties    *[]string `json:"specialties,omitempty"`
	AvoidEnabled   *bool     `json:"avoid_enabled,omitempty"`
	AvoidUnits     *string   `json:"avoid_units,omitempty"`
	AvoidPersons   *string   `json:"avoid_persons,omitempty"`
	ReviewTime     *string   `json:"review_time,omitempty"`
	ReviewLocation *string   `json:"review_location,omitempty"`
	RuleID         *string   `json:"rule_id,omitempty"`
	IfVersion      *int64    `json:"if_version,omitempty"`
}

func (r UpdateDrawRequest) patch() engine.DrawPatch {
	return engine.DrawPatch{
		Category:       r.Category,
		Subcategory:    r.Subcategory,
		Specialty:      r.Specialty,
		ProjectName:    r.ProjectName,
		ProjectCode:    r.ProjectCode,
		ExpertCount:    r.ExpertCount,
		BackupCount:    r.BackupCount,
		DrawMethod:     r.DrawMethod,
		Titles:         r.Titles,
		Regions:        r.Regions,
		Specialties:    r.Specialties,
		AvoidEnabled:   r.AvoidEnabled,
		AvoidUnits:     r.AvoidUnits,
		AvoidPersons:   r.AvoidPersons,
		ReviewTime:     r.ReviewTime,
		ReviewLocation: r.ReviewLocation,
		RuleID:         r.RuleID,
		IfVersion:      r.IfVersion,
	}
}

type BatchDeleteRequest struct {
	IDs []string `json:"ids" minItems:"1"`
}

type ExecuteDrawRequest struct {
	Seed      *uint64 `json:"seed,omitempty"`
	TimeoutMS int     `json:"timeout_ms,omitempty" minimum:"0"`
}

type ReplaceRequest struct {
	BackupResultID  string `json:"backup_result_id"`
	PrimaryResultID string `json:"primary_result_id,omitempty"`
}

type ContactRequest struct {
	Status      string `json:"status" enum:"unset,contacted,confirmed,declined,unreachable"`
	Note        string `json:"note,omitempty"`
	AutoReplace bool   `json:"auto_replace,omitempty"`
}

type ImportExpertsRequest struct {
	Experts []ExpertRequest `json:"experts"`
}

// Response payloads

type paginatedDraws struct {
	Items      []domain.DrawApplication `json:"items"`
	NextCursor string                   `json:"next_cursor,omitempty"`
}

type paginatedEvents struct {
	Items      []domain.Event `json:"items"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

type ReplaceResponse struct {
	Promoted   domain.DrawResult `json:"promoted"`
	Superseded domain.DrawResult `json:"superseded"`
}

type ContactResponse struct {
	Result   domain.DrawResult  `json:"result"`
	Promoted *domain.DrawResult `json:"promoted,omitempty"`
	Warning  string             `json:"warning,omitempty" enum:"no_backup_available"`
}

// ContactInfo is the contact view of one drawn expert.
type ContactInfo struct {
	ResultID      string  `json:"result_id"`
	ExpertID      string  `json:"expert_id"`
	Name          string  `json:"name"`
	Organization  string  `json:"organization,omitempty"`
	Phone         string  `json:"phone,omitempty"`
	Email         string  `json:"email,omitempty"`
	ContactStatus string  `json:"contact_status"`
	ContactNote   string  `json:"contact_note,omitempty"`
	ContactedBy   string  `json:"contacted_by,omitempty"`
	ContactedAt   *string `json:"contacted_at,omitempty"`
}

func contactInfo(r domain.DrawResult) ContactInfo {
	info := ContactInfo{
		ResultID:      r.ID,
		ExpertID:      r.ExpertID,
		ContactStatus: r.ContactStatus,
		ContactNote:   r.ContactNote,
		ContactedBy:   r.ContactedBy,
		ContactedAt:   r.ContactedAt,
	}
	if r.Expert != nil {
		info.Name = r.Expert.Name
		info.Organization = r.Expert.Organization
		info.Phone = r.Expert.Phone
		info.Email = r.Expert.Email
	}
	return info
}

type ImportExpertsResponse struct {
	Imported int `json:"imported"`
}

type RuleRequest struct {
	ID           string   `json:"id,omitempty"`
	Name         string   `json:"name"`
	Category     string   `json:"category,omitempty"`
	Subcategory  string   `json:"subcategory,omitempty"`
	Specialty    string   `json:"specialty,omitempty"`
	Titles       []string `json:"titles,omitempty"`
	Regions      []string `json:"regions,omitempty"`
	Specialties  []string `json:"specialties,omitempty"`
	AvoidEnabled *bool    `json:"avoid_enabled,omitempty"`
	DrawMethod   string   `json:"draw_method,omitempty"`
	IsActive     *bool    `json:"is_active,omitempty"`
}

func (r RuleRequest) rule() domain.Rule {
	return domain.Rule{
		ID:           r.ID,
		Name:         r.Name,
		Category:     r.Category,
		Subcategory:  r.Subcategory,
		Specialty:    r.Specialty,
		Titles:       r.Titles,
		Regions:      r.Regions,
		Specialties:  r.Specialties,
		AvoidEnabled: r.AvoidEnabled,
		DrawMethod:   r.DrawMethod,
		IsActive:     r.IsActive == nil || *r.IsActive,
	}
}

type ExpertRequest struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	OrganizationID string   `json:"organization_id,omitempty"`
	Organization   string   `json:"organization,omitempty"`
	Category       string   `json:"category,omitempty"`
	Subcategory    string   `json:"subcategory,omitempty"`
	Region         string   `json:"region,omitempty"`
	Title          string   `json:"title,omitempty"`
	Specialties    []string `json:"specialties,omitempty"`
	Phone          string   `json:"phone,omitempty"`
	Email          string   `json:"email,omitempty"`
	AvoidUnits     string   `json:"avoid_units,omitempty"`
	Weight         *float64 `json:"weight,omitempty"`
	IsActive       *bool    `json:"is_active,omitempty"`
}

func (r ExpertRequest) expert() domain.Expert {
	return domain.Expert{
		ID:             r.ID,
		Name:           r.Name,
		OrganizationID: r.OrganizationID,
		Organization:   r.Organization,
		Category:       r.Category,
		Subcategory:    r.Subcategory,
		Region:         r.Region,
		Title:          r.Title,
		Specialties:    r.Specialties,
		Phone:          r.Phone,
		Email:          r.Email,
		AvoidUnits:     r.AvoidUnits,
		Weight:         r.Weight,
		IsActive:       r.IsActive == nil || *r.IsActive,
	}
}
