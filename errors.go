package tribunalengine

import "errors"

var (
	// ErrConfig covers missing credentials and invalid configuration values.
	ErrConfig = errors.New("tribunalengine: invalid configuration")

	// ErrIngestion covers unreadable PDFs and unresolvable metadata.
	ErrIngestion = errors.New("tribunalengine: ingestion failed")

	// ErrIndex covers corruption or inconsistency between the semantic and
	// sparse stores.
	ErrIndex = errors.New("tribunalengine: index error")

	// ErrRetrieval names a query for which both stores failed. Retrieve
	// returns the failing store's own error and does not wrap it in this one.
	ErrRetrieval = errors.New("tribunalengine: retrieval failed")

	// ErrSynthesis names LLM and JSON parsing failures during synthesis; no
	// code in this module returns it.
	ErrSynthesis = errors.New("tribunalengine: synthesis failed")

	// ErrGate names a CaseFile that is not intake-complete. GeneratePrediction
	// answers such a CaseFile with a refusal prediction and a nil error.
	ErrGate = errors.New("tribunalengine: case file intake incomplete")

	// ErrTimeout names an operation that exceeded its wall-clock budget; no
	// code in this module returns it.
	ErrTimeout = errors.New("tribunalengine: operation timed out")

	// ErrTransientProvider names a retriable embedding/LLM provider error; no
	// code in this module returns it.
	ErrTransientProvider = errors.New("tribunalengine: transient provider error")

	// ErrEmptyCorpus names a corpus with no chunks. Retrieve answers an empty
	// corpus with no results and a nil error.
	ErrEmptyCorpus = errors.New("tribunalengine: corpus is empty")

	// ErrDocumentNotFound names an unknown case reference; no code in this
	// module returns it.
	ErrDocumentNotFound = errors.New("tribunalengine: document not found")

	// ErrStoreClosed names an operation on a closed store; no code in this
	// module returns it.
	ErrStoreClosed = errors.New("tribunalengine: store is closed")
)
