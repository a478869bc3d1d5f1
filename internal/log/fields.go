package log

// Common field names for structured logging
const (
	FieldComponent  = "component"
	FieldError      = "error"
	FieldOperation  = "operation"
	FieldDuration   = "duration_ms"
	FieldKind       = "kind"
	FieldAction     = "action"
	FieldSubjectID  = "subject_id"
	FieldSeq        = "seq"
	FieldAttempts   = "attempts"
	FieldOutcome    = "outcome"
	FieldReason     = "reason"
	FieldAmount     = "amount"
	FieldBalance    = "balance"
	FieldCurrency   = "currency"
	FieldAccountID  = "account_id"
	FieldCount      = "count"
	FieldStatusCode = "status_code"
	FieldPath       = "path"
	FieldMessageID  = "message_id"
)

// Components defines standard component names
const (
	ComponentApp         = "app"
	ComponentStorage     = "storage"
	ComponentOutbox      = "outbox"
	ComponentRemote      = "remote"
	ComponentLedger      = "balance_ledger"
	ComponentCoordinator = "sync_coordinator"
	ComponentProcessor   = "sync_processor"
	ComponentAMQP        = "amqp"
	ComponentWorker      = "worker"
	ComponentCache       = "cache"
	ComponentBackend     = "backend"
	ComponentScheduler   = "scheduler"
)

// Operations defines standard operation names
const (
	OpCreate   = "create"
	OpRead     = "read"
	OpUpdate   = "update"
	OpDelete   = "delete"
	OpList     = "list"
	OpDrain    = "drain"
	OpPersist  = "persist"
	OpOverride = "override"
	OpShutdown = "shutdown"
	OpStartup  = "startup"
)

// ErrorTypes defines standard error type categories
const (
	ErrorTypeValidation    = "validation_error"
	ErrorTypeConfiguration = "configuration_error"
	ErrorTypeDatabase      = "database_error"
	ErrorTypeNetwork       = "network_error"
	ErrorTypeRejected      = "rejected_error"
	ErrorTypeDecode        = "decode_error"
)

// LogFields provides a builder pattern for structured log fields
type LogFields map[string]any

// NewFields creates a new LogFields instance
func NewFields() LogFields {
	return make(LogFields)
}

// WithError adds error field
func (f LogFields) WithError(err error) LogFields {
	if err != nil {
		f[FieldError] = err.Error()
	}
	return f
}

// WithOperation adds operation field
func (f LogFields) WithOperation(op string) LogFields {
	f[FieldOperation] = op
	return f
}

// WithSubject adds the outbox subject fields.
func (f LogFields) WithSubject(kind string, id int64, action string) LogFields {
	f[FieldKind] = kind
	f[FieldSubjectID] = id
	if action != "" {
		f[FieldAction] = action
	}
	return f
}

// WithEntry adds outbox entry bookkeeping fields.
func (f LogFields) WithEntry(seq, attempts int64) LogFields {
	f[FieldSeq] = seq
	f[FieldAttempts] = attempts
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
