package log

// Attribute keys every log record draws from, so records stay
// greppable across packages.
const (
	FieldComponent  = "component"
	FieldRequestID  = "request_id"
	FieldMethod     = "method"
	FieldPath       = "path"
	FieldStatusCode = "status_code"
	FieldDuration   = "duration_ms"
	FieldError      = "error"
	FieldOperation  = "operation"

	FieldConceptID   = "concept_id"
	FieldVersionID   = "version_id"
	FieldAccountID   = "account_id"
	FieldCategoryID  = "category_id"
	FieldFromCat     = "from_category_id"
	FieldToCat       = "to_category_id"
	FieldAmountMinor = "amount_minor"
	FieldMonth       = "month"
	FieldExternalID  = "external_id"
)

// Component values for FieldComponent.
const (
	ComponentApp       = "app"
	ComponentHTTP      = "http"
	ComponentStorage   = "storage"
	ComponentLedger    = "ledger"
	ComponentEvents    = "events"
	ComponentWorker    = "worker"
	ComponentExport    = "export"
	ComponentRebuild   = "rebuild"
	ComponentRecon     = "reconciliation"
	ComponentAllocator = "allocation"
)

// Operation values for FieldOperation.
const (
	OpCreate   = "create"
	OpEdit     = "edit"
	OpVoid     = "void"
	OpAllocate = "allocate"
	OpRebuild  = "rebuild"
	OpCommit   = "commit"
	OpExport   = "export"
	OpStartup  = "startup"
	OpShutdown = "shutdown"
)
