package domain

// MaxSlots bounds expert_count and backup_count of a draw.
const MaxSlots = 10000

// Draw statuses.
const (
	StatusPending   = "pending"
	StatusExecuted  = "executed"
	StatusCompleted = "completed"
	StatusCancelled = "cancelled"
)

// Draw methods.
const (
	MethodRandom   = "random"
	MethodLottery  = "lottery"
	MethodWeighted = "weighted"
)

// Contact statuses of a draw result.
const (
	ContactUnset       = "unset"
	ContactContacted   = "contacted"
	ContactConfirmed   = "confirmed"
	ContactDeclined    = "declined"
	ContactUnreachable = "unreachable"
)

// Result row states.
const (
	ResultActive     = "active"
	ResultSuperseded = "superseded"
)

// NormalizeMethod maps accepted aliases onto the canonical method name.
// An empty input stays empty so callers can fall back to defaults.
func NormalizeMethod(m string) string {
	switch m {
	case "uniform-random", "uniform":
		return MethodRandom
	}
	return m
}

// ValidMethod reports whether m names a supported draw method.
func ValidMethod(m string) bool {
	switch NormalizeMethod(m) {
	case MethodRandom, MethodLottery, MethodWeighted:
		return true
	}
	return false
}

// ValidContactStatus reports whether s is a known contact status.
func ValidContactStatus(s string) bool {
	switch s {
	case ContactUnset, ContactContacted, ContactConfirmed, ContactDeclined, ContactUnreachable:
		return true
	}
	return false
}

// Unavailable reports whether a contact status takes the expert out of the draw.
func Unavailable(status string) bool {
	return status == ContactDeclined || status == ContactUnreachable
}

type DrawApplication struct {
	ID             string   `json:"id"`
	Category       string   `json:"category"`
	Subcategory    string   `json:"subcategory,omitempty"`
	Specialty      string   `json:"specialty,omitempty"`
	ProjectName    string   `json:"project_name,omitempty"`
	ProjectCode    string   `json:"project_code,omitempty"`
	ExpertCount    int      `json:"expert_count"`
	BackupCount    int      `json:"backup_count"`
	DrawMethod     string   `json:"draw_method" enum:"random,lottery,weighted"`
	Titles         []string `json:"titles,omitempty"`
	Regions        []string `json:"regions,omitempty"`
	Specialties    []string `json:"specialties,omitempty"`
	AvoidEnabled   *bool    `json:"avoid_enabled,omitempty"`
	AvoidUnits     string   `json:"avoid_units,omitempty"`
	AvoidPersons   string   `json:"avoid_persons,omitempty"`
	ReviewTime     *string  `json:"review_time,omitempty" format:"date-time"`
	ReviewLocation string   `json:"review_location,omitempty"`
	RuleID         *string  `json:"rule_id,omitempty"`
	Status         string   `json:"status" enum:"pending,executed,completed,cancelled"`
	ExecutionID    *string  `json:"execution_id,omitempty"`
	ExecutedAt     *string  `json:"executed_at,omitempty" format:"date-time"`
	Version        int64    `json:"version"`
	CreatedBy      string   `json:"created_by,omitempty"`
	CreatedAt      string   `json:"created_at" format:"date-time"`
	UpdatedAt      string   `json:"updated_at" format:"date-time"`
}

// Rule is a named constraint bundle. Empty fields defer to the draw.
type Rule struct {
	ID           string   `json:"id" yaml:"id"`
	Name         string   `json:"name" yaml:"name"`
	Category     string   `json:"category,omitempty" yaml:"category"`
	Subcategory  string   `json:"subcategory,omitempty" yaml:"subcategory"`
	Specialty    string   `json:"specialty,omitempty" yaml:"specialty"`
	Titles       []string `json:"titles,omitempty" yaml:"titles"`
	Regions      []string `json:"regions,omitempty" yaml:"regions"`
	Specialties  []string `json:"specialties,omitempty" yaml:"specialties"`
	AvoidEnabled *bool    `json:"avoid_enabled,omitempty" yaml:"avoid_enabled"`
	DrawMethod   string   `json:"draw_method,omitempty" yaml:"draw_method"`
	IsActive     bool     `json:"is_active" yaml:"-"`
	CreatedAt    string   `json:"created_at" format:"date-time" yaml:"created_at"`
	UpdatedAt    string   `json:"updated_at" format:"date-time" yaml:"updated_at"`
}

type Expert struct {
	ID             string   `json:"id" yaml:"id"`
	Name           string   `json:"name" yaml:"name"`
	OrganizationID string   `json:"organization_id,omitempty" yaml:"organization_id"`
	Organization   string   `json:"organization,omitempty" yaml:"organization"`
	Category       string   `json:"category,omitempty" yaml:"category"`
	Subcategory    string   `json:"subcategory,omitempty" yaml:"subcategory"`
	Region         string   `json:"region,omitempty" yaml:"region"`
	Title          string   `json:"title,omitempty" yaml:"title"`
	Specialties    []string `json:"specialties,omitempty" yaml:"specialties"`
	Phone          string   `json:"phone,omitempty" yaml:"phone"`
	Email          string   `json:"email,omitempty" yaml:"email"`
	AvoidUnits     string   `json:"avoid_units,omitempty" yaml:"avoid_units"`
	Weight         *float64 `json:"weight,omitempty" yaml:"weight"`
	IsActive       bool     `json:"is_active" yaml:"-"`
}

// Constraints is the resolved, immutable constraint set of one execution.
type Constraints struct {
	RuleID       string   `json:"rule_id,omitempty"`
	RuleName     string   `json:"rule_name,omitempty"`
	Category     string   `json:"category"`
	Subcategory  string   `json:"subcategory,omitempty"`
	Specialty    string   `json:"specialty,omitempty"`
	Titles       []string `json:"titles,omitempty"`
	Regions      []string `json:"regions,omitempty"`
	Specialties  []string `json:"specialties,omitempty"`
	AvoidEnabled bool     `json:"avoid_enabled"`
	Method       string   `json:"method"`
}

// RosterFilter is what the roster provider is asked for.
type RosterFilter struct {
	Category    string
	Subcategory string
	Specialty   string
	Titles      []string
	Regions     []string
	Specialties []string
	ActiveOnly  bool
}

// Filter derives the roster query from resolved constraints.
func (c Constraints) Filter() RosterFilter {
	return RosterFilter{
		Category:    c.Category,
		Subcategory: c.Subcategory,
		Specialty:   c.Specialty,
		Titles:      c.Titles,
		Regions:     c.Regions,
		Specialties: c.Specialties,
		ActiveOnly:  true,
	}
}

type Execution struct {
	ID          string      `json:"id"`
	DrawID      string      `json:"draw_id"`
	Seq         int         `json:"seq"`
	Constraints Constraints `json:"constraints"`
	Method      string      `json:"method"`
	Seed        uint64      `json:"seed"`
	PoolSize    int         `json:"pool_size"`
	ActorID     string      `json:"actor_id"`
	ExecutedAt  string      `json:"executed_at" format:"date-time"`
}

type DrawResult struct {
	ID               string  `json:"id"`
	DrawID           string  `json:"draw_id"`
	ExecutionID      string  `json:"execution_id"`
	ExpertID         string  `json:"expert_id"`
	IsBackup         bool    `json:"is_backup"`
	IsReplacement    bool    `json:"is_replacement"`
	Ordinal          int     `json:"ordinal"`
	State            string  `json:"state" enum:"active,superseded"`
	ContactStatus    string  `json:"contact_status" enum:"unset,contacted,confirmed,declined,unreachable"`
	ContactNote      string  `json:"contact_note,omitempty"`
	ContactedBy      string  `json:"contacted_by,omitempty"`
	ContactedAt      *string `json:"contacted_at,omitempty" format:"date-time"`
	ReplacedResultID *string `json:"replaced_result_id,omitempty"`
	SupersededBy     *string `json:"superseded_by,omitempty"`
	CreatedAt        string  `json:"created_at" format:"date-time"`
	UpdatedAt        string  `json:"updated_at" format:"date-time"`
	Expert           *Expert `json:"expert,omitempty"`
}

// Active reports whether the row belongs to the active view.
func (r DrawResult) Active() bool { return r.State == ResultActive }

// ActivePrimary reports whether the row currently fills a primary slot.
func (r DrawResult) ActivePrimary() bool { return r.Active() && !r.IsBackup }

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	DrawID     string `json:"draw_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string   `json:"id"`
	ActorID   string   `json:"actor_id"`
	Name      string   `json:"name,omitempty"`
	Roles     []string `json:"roles,omitempty"`
	KeyHash   string   `json:"key_hash"`
	CreatedAt string   `json:"created_at" format:"date-time"`
}
