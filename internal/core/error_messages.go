package core

// error_messages.go maps technical errors to coded user messages.
//
// Users quote the code to support; support looks it up here.
//
// # Database Errors (DB001-DB099)
//
//	DB001 - Duplicate key: a draft with this SKU already exists
//	DB002 - Unique constraint: a value must be unique but already exists
//	DB003 - Foreign key: a referenced record does not exist
//	DB004 - Connection refused: unable to connect to database
//	DB005 - Connection reset: database connection was interrupted
//	DB006 - Timeout: operation timed out
//	DB007 - Deadlock: database was busy with conflicting operations
//	DB008 - Duplicate check failed: existing SKUs could not be loaded
//
// # Import Errors (IMP001-IMP099)
//
//	IMP001 - Invalid mapping: the column mapping cannot be used
//	IMP002 - Missing header: no header row was found
//	IMP003 - No SKUs: the pasted text holds no SKU
//	IMP004 - Unknown paste mode
//	IMP005 - Invalid number in a numeric column
//
// # File Errors (FILE001-FILE099)
//
//	FILE001 - File too large
//	FILE002 - Unreadable workbook
//	FILE003 - Unsupported encoding
//	FILE004 - No file was selected
//	FILE005 - Empty file
//	FILE006 - Sheet not found
//
// # Upload Errors (UPL001-UPL099)
//
//	UPL001 - Import cancelled
//	UPL002 - System busy: too many imports running
//	UPL003 - Import not found (expired from memory)
//	UPL004 - Request cancelled
//	UPL005 - Request timed out
//	UPL006 - Session not found
//
// # Default Error (ERR000)
//
// Fallback when no pattern matches; check the application log for the
// technical error.
//
// Patterns are matched case-insensitively with strings.Contains and the
// first match wins, so specific patterns come before general ones.

import (
	"fmt"
	"strings"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string // What happened (user-friendly)
	Action  string // What to do about it
	Code    string // Error code for support reference
}

type errorPattern struct {
	pattern string
	msg     UserMessage
}

// errorPatterns maps technical error text (case-insensitive) to user
// messages. Order matters.
var errorPatterns = []errorPattern{
	{
		pattern: "prefetch duplicates",
		msg: UserMessage{
			Message: "Existing SKUs could not be checked",
			Action:  "Nothing was imported. Please try again",
			Code:    "DB008",
		},
	},

	// Database constraints
	{
		pattern: "duplicate key",
		msg: UserMessage{
			Message: "A draft with this SKU already exists",
			Action:  "Review the rejected rows and remove duplicates",
			Code:    "DB001",
		},
	},
	{
		pattern: "unique constraint",
		msg: UserMessage{
			Message: "This value must be unique but already exists",
			Action:  "Check for duplicate entries in your file",
			Code:    "DB002",
		},
	},
	{
		pattern: "violates unique",
		msg: UserMessage{
			Message: "A duplicate value was found",
			Action:  "Review your data for duplicate SKUs",
			Code:    "DB002",
		},
	},
	{
		pattern: "violates foreign key",
		msg: UserMessage{
			Message: "Referenced record does not exist",
			Action:  "Check the manufacturer, supplier and importer columns",
			Code:    "DB003",
		},
	},

	// Database connectivity
	{
		pattern: "connection refused",
		msg: UserMessage{
			Message: "Unable to connect to database",
			Action:  "Please try again in a few moments",
			Code:    "DB004",
		},
	},
	{
		pattern: "connection reset",
		msg: UserMessage{
			Message: "Database connection was interrupted",
			Action:  "Please try again",
			Code:    "DB005",
		},
	},
	{
		pattern: "deadlock",
		msg: UserMessage{
			Message: "Database was busy with conflicting operations",
			Action:  "Please try again",
			Code:    "DB007",
		},
	},

	// Import
	{
		pattern: "invalid column mapping",
		msg: UserMessage{
			Message: "The column mapping cannot be used",
			Action:  "Map exactly one column to SKU and each field at most once",
			Code:    "IMP001",
		},
	},
	{
		pattern: "missing header row",
		msg: UserMessage{
			Message: "No header row was found",
			Action:  "Put column names in the first non-empty row",
			Code:    "IMP002",
		},
	},
	{
		pattern: "no skus provided",
		msg: UserMessage{
			Message: "The pasted text contains no SKUs",
			Action:  "Paste at least one SKU",
			Code:    "IMP003",
		},
	},
	{
		pattern: "unknown paste mode",
		msg: UserMessage{
			Message: "Unknown paste mode",
			Action:  "Use sku_only or sku_plus_name",
			Code:    "IMP004",
		},
	},
	{
		pattern: "invalid number",
		msg: UserMessage{
			Message: "Invalid number format detected",
			Action:  "Use digits with a single decimal separator",
			Code:    "IMP005",
		},
	},

	// Files
	{
		pattern: "file too large",
		msg: UserMessage{
			Message: "File exceeds maximum size limit",
			Action:  "Split the file into smaller parts",
			Code:    "FILE001",
		},
	},
	{
		pattern: "unreadable",
		msg: UserMessage{
			Message: "The workbook could not be read",
			Action:  "Save the file again as XLSX or CSV",
			Code:    "FILE002",
		},
	},
	{
		pattern: "unsupported encoding",
		msg: UserMessage{
			Message: "The file encoding is not supported",
			Action:  "Save the file as UTF-8 or choose another encoding",
			Code:    "FILE003",
		},
	},
	{
		pattern: "no file provided",
		msg: UserMessage{
			Message: "No file was selected",
			Action:  "Please select a file to import",
			Code:    "FILE004",
		},
	},
	{
		pattern: "empty file",
		msg: UserMessage{
			Message: "The uploaded file is empty",
			Action:  "Please upload a file with a header and data rows",
			Code:    "FILE005",
		},
	},
	{
		pattern: "sheet",
		msg: UserMessage{
			Message: "The selected sheet could not be read",
			Action:  "Choose a sheet that exists in the workbook",
			Code:    "FILE006",
		},
	},

	// Import runs
	{
		pattern: "cancelled",
		msg: UserMessage{
			Message: "Import was cancelled",
			Action:  "Start a new import when ready",
			Code:    "UPL001",
		},
	},
	{
		pattern: "too many concurrent imports",
		msg: UserMessage{
			Message: "System is busy processing other imports",
			Action:  "Please wait a moment and try again",
			Code:    "UPL002",
		},
	},
	{
		pattern: "import not found",
		msg: UserMessage{
			Message: "Import not found",
			Action:  "The import may have expired. Load the session instead",
			Code:    "UPL003",
		},
	},
	{
		pattern: "context canceled",
		msg: UserMessage{
			Message: "Request was cancelled",
			Action:  "Please try again",
			Code:    "UPL004",
		},
	},
	{
		pattern: "context deadline exceeded",
		msg: UserMessage{
			Message: "Request timed out",
			Action:  "Try a smaller file or try again later",
			Code:    "UPL005",
		},
	},
	{
		pattern: "timeout",
		msg: UserMessage{
			Message: "Operation timed out",
			Action:  "Try a smaller file or try again later",
			Code:    "DB006",
		},
	},
	{
		pattern: "session not found",
		msg: UserMessage{
			Message: "Import session not found",
			Action:  "Check the session id",
			Code:    "UPL006",
		},
	},
}

var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-friendly message. The
// first matching pattern wins; otherwise ERR000 is returned.
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	errStr := strings.ToLower(err.Error())

	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}

	return defaultMessage
}

// FormatUserError renders err as "Message (Code: XXX). Action".
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether err matches a known pattern.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}

// UserError pairs a technical error with its user message.
type UserError struct {
	Technical error
	User      UserMessage
}

func (e *UserError) Error() string {
	return e.User.Message
}

func (e *UserError) Unwrap() error {
	return e.Technical
}

// NewUserError maps err to a UserError. Returns nil if err is nil.
func NewUserError(err error) *UserError {
	if err == nil {
		return nil
	}
	return &UserError{
		Technical: err,
		User:      MapError(err),
	}
}
