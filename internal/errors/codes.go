// Package errors provides structured error handling for pigeon-evals.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors
//   - 2XX: Dataset / IO errors
//   - 3XX: Provider / network errors
//   - 4XX: Splitter / validation errors
//   - 5XX: Store errors
//   - 6XX: Reducer artifact errors
//   - 7XX: Evaluation / runtime errors
package errors

// Category defines error categories for classification.
type Category string

const (
	// CategoryConfig indicates configuration-related errors.
	CategoryConfig Category = "CONFIG"
	// CategoryIO indicates dataset and file I/O errors.
	CategoryIO Category = "IO"
	// CategoryProvider indicates embedding/LLM provider and network errors.
	CategoryProvider Category = "PROVIDER"
	// CategoryValidation indicates splitter and input validation errors.
	CategoryValidation Category = "VALIDATION"
	// CategoryStore indicates vector/text store errors.
	CategoryStore Category = "STORE"
	// CategoryReducer indicates reducer artifact errors.
	CategoryReducer Category = "REDUCER"
	// CategoryRuntime indicates evaluation and runtime errors.
	CategoryRuntime Category = "RUNTIME"
)

// Error codes organized by category.
const (
	// Config errors (100-199)
	ErrCodeConfigNotFound = "ERR_101_CONFIG_NOT_FOUND"
	ErrCodeConfigInvalid  = "ERR_102_CONFIG_INVALID"

	// Dataset / IO errors (200-299)
	ErrCodePathNotFound   = "ERR_201_PATH_NOT_FOUND"
	ErrCodePathUnreadable = "ERR_202_PATH_UNREADABLE"

	// Provider / network errors (300-399)
	ErrCodeProviderUnavailable = "ERR_301_PROVIDER_UNAVAILABLE"
	ErrCodeRateLimited         = "ERR_302_RATE_LIMITED"
	ErrCodeTokenLimit          = "ERR_303_TOKEN_LIMIT"

	// Splitter / validation errors (400-499)
	ErrCodeRegexInvalid   = "ERR_401_REGEX_INVALID"
	ErrCodeInvalidInput   = "ERR_402_INVALID_INPUT"
	ErrCodeNotImplemented = "ERR_403_NOT_IMPLEMENTED"

	// Store errors (500-599)
	ErrCodeStoreError            = "ERR_501_STORE_ERROR"
	ErrCodeDimensionMismatch     = "ERR_502_DIMENSION_MISMATCH"
	ErrCodeInconsistencyDetected = "ERR_503_INCONSISTENCY_DETECTED"

	// Reducer errors (600-699)
	ErrCodeReducerMismatch      = "ERR_601_REDUCER_MISMATCH"
	ErrCodeArtifactNotFound     = "ERR_602_ARTIFACT_NOT_FOUND"
	ErrCodeArtifactIncompatible = "ERR_603_ARTIFACT_INCOMPATIBLE"

	// Evaluation / runtime errors (700-799)
	ErrCodeTestLoadFailed = "ERR_701_TEST_LOAD_FAILED"
	ErrCodeTimeout        = "ERR_702_TIMEOUT"
	ErrCodeCancelled      = "ERR_703_CANCELLED"
	ErrCodeInternal       = "ERR_704_INTERNAL"
)

// categoryFromCode extracts category from error code.
func categoryFromCode(code string) Category {
	if len(code) < 7 {
		return CategoryRuntime
	}

	switch code[4] {
	case '1':
		return CategoryConfig
	case '2':
		return CategoryIO
	case '3':
		return CategoryProvider
	case '4':
		return CategoryValidation
	case '5':
		return CategoryStore
	case '6':
		return CategoryReducer
	default:
		return CategoryRuntime
	}
}

// isRetryableCode checks if an error code represents a retryable error.
func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeRateLimited:
		return true
	default:
		return false
	}
}
