package log

// Common field names for structured logging
const (
	FieldComponent   = "component"
	FieldRequestID   = "request_id"
	FieldClientIP    = "client_ip"
	FieldMethod      = "method"
	FieldPath        = "path"
	FieldStatusCode  = "status_code"
	FieldDuration    = "duration_ms"
	FieldSuccess     = "success"
	FieldError       = "error"
	FieldOperation   = "operation"
	FieldUserID      = "user_id"
	FieldRecordID    = "record_id"
	FieldRecordKind  = "record_kind"
	FieldAmount      = "amount"
	FieldCategory    = "category"
	FieldChallengeID = "challenge_id"
	FieldPeriod      = "period"
	FieldTier        = "tier"
)

// Components defines standard component names
const (
	ComponentApp       = "app"
	ComponentHTTP      = "http"
	ComponentAPI       = "api"
	ComponentRecords   = "records"
	ComponentChallenge = "challenge"
	ComponentLedger    = "ledger"
	ComponentSession   = "session"
	ComponentStorage   = "storage"
	ComponentKeystore  = "keystore"
	ComponentAMQP      = "amqp"
	ComponentWorker    = "worker"
	ComponentExport    = "export"
	ComponentBackend   = "backend"
)

// Operations defines standard operation names
const (
	OpCreate   = "create"
	OpDelete   = "delete"
	OpFetch    = "fetch"
	OpRefresh  = "refresh"
	OpEvaluate = "evaluate"
	OpComplete = "complete"
	OpSync     = "sync"
	OpLogin    = "login"
	OpLogout   = "logout"
	OpExport   = "export"
	OpStartup  = "startup"
	OpShutdown = "shutdown"
)

// LogFields provides a builder pattern for structured log fields
type LogFields map[string]any

// NewFields creates a new LogFields instance
func NewFields() LogFields {
	return make(LogFields)
}

func (f LogFields) WithComponent(component string) LogFields {
	f[FieldComponent] = component
	return f
}

func (f LogFields) WithError(err error) LogFields {
	if err != nil {
		f[FieldError] = err.Error()
	}
	return f
}

func (f LogFields) WithOperation(op string) LogFields {
	f[FieldOperation] = op
	return f
}

// WithRecord adds record-related fields
func (f LogFields) WithRecord(kind string, id int64, amount int64, category string) LogFields {
	f[FieldRecordKind] = kind
	if id != 0 {
		f[FieldRecordID] = id
	}
	f[FieldAmount] = amount
	f[FieldCategory] = category
	return f
}

// WithChallenge adds challenge-related fields
func (f LogFields) WithChallenge(userID int64, challengeID, period string) LogFields {
	f[FieldUserID] = userID
	f[FieldChallengeID] = challengeID
	f[FieldPeriod] = period
	return f
}

// WithHTTP adds request/response fields
func (f LogFields) WithHTTP(method, path string, statusCode int, durationMs int64) LogFields {
	f[FieldMethod] = method
	f[FieldPath] = path
	f[FieldStatusCode] = statusCode
	f[FieldDuration] = durationMs
	f[FieldSuccess] = statusCode < 400
	return f
}

// ToSlice converts LogFields to a slice for slog
func (f LogFields) ToSlice() []any {
	slice := make([]any, 0, len(f)*2)
	for k, v := range f {
		slice = append(slice, k, v)
	}
	return slice
}
