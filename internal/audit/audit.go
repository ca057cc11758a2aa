package audit

import (
	"errors"
	"time"
)

// Action enumerates the security-relevant operations captured in the audit
// log.
type Action string

const (
	ActionCreate            Action = "CREATE"
	ActionRead              Action = "READ"
	ActionUpdate            Action = "UPDATE"
	ActionDelete            Action = "DELETE"
	ActionLogin             Action = "LOGIN"
	ActionLogout            Action = "LOGOUT"
	ActionPermissionGranted Action = "PERMISSION_GRANTED"
	ActionPermissionDenied  Action = "PERMISSION_DENIED"
	ActionRoleAssigned      Action = "ROLE_ASSIGNED"
	ActionRoleRemoved       Action = "ROLE_REMOVED"
)

var actionDescriptions = map[Action]string{
	ActionCreate:            "entity created",
	ActionRead:              "entity read",
	ActionUpdate:            "entity updated",
	ActionDelete:            "entity deleted",
	ActionLogin:             "user login",
	ActionLogout:            "user logout",
	ActionPermissionGranted: "access granted",
	ActionPermissionDenied:  "access denied",
	ActionRoleAssigned:      "role assigned",
	ActionRoleRemoved:       "role removed",
}

// Valid reports whether the action is one of the known values.
func (a Action) Valid() bool {
	_, ok := actionDescriptions[a]
	return ok
}

// Description returns the human-readable meaning of the action.
func (a Action) Description() string {
	return actionDescriptions[a]
}

// Result classifies the outcome of an audited operation.
type Result string

const (
	ResultSuccess      Result = "SUCCESS"
	ResultError        Result = "ERROR"
	ResultWarning      Result = "WARNING"
	ResultAccessDenied Result = "ACCESS_DENIED"
)

// Record is one append-only audit log entry. Identity fields are fixed at
// construction; descriptive fields may be set before the record is persisted,
// never after.
type Record struct {
	ID           string
	EntityName   string
	EntityID     string
	Action       Action
	UserID       string
	Username     string
	Timestamp    time.Time
	ClientIP     string
	UserAgent    string
	OldValues    map[string]any
	NewValues    map[string]any
	Description  string
	Result       Result
	ErrorMessage string
}

// NewRecord constructs an audit record stamped with the current time and a
// SUCCESS result.
func NewRecord(entityName, entityID string, action Action, userID, username string) (*Record, error) {
	if entityName == "" {
		return nil, errors.New("audit: entity name is required")
	}
	if !action.Valid() {
		return nil, errors.New("audit: unknown action")
	}
	return &Record{
		EntityName: entityName,
		EntityID:   entityID,
		Action:     action,
		UserID:     userID,
		Username:   username,
		Timestamp:  time.Now().UTC(),
		Result:     ResultSuccess,
	}, nil
}

// SetError attaches an error message and forces the result to ERROR.
func (r *Record) SetError(message string) {
	r.ErrorMessage = message
	r.Result = ResultError
}

// SetResult overrides the outcome classification.
func (r *Record) SetResult(result Result) {
	r.Result = result
}

// SetContext attaches the client network context.
func (r *Record) SetContext(clientIP, userAgent string) {
	r.ClientIP = clientIP
	r.UserAgent = userAgent
}
