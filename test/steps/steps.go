package steps

import (
	"net/http"
	"net/http/httptest"
	"sync"

	"github.com/clipstream/vod-api/pipeline"
	"github.com/clipstream/vod-api/storage"
	"github.com/clipstream/vod-api/upload"
)

// StepContext carries state between the steps of one scenario: the servers
// under test, the last HTTP exchange, and the upload ticket being worked.
type StepContext struct {
	latestResponse *http.Response
	latestBody     []byte
	pendingRequest *http.Request
	authHeaders    map[string]string

	BaseURL         string
	BaseInternalURL string

	apiServer      *httptest.Server
	internalServer *httptest.Server
	authzServer    *httptest.Server
	store          *storage.Store
	engine         *pipeline.Coordinator
	workDir        string

	ticket upload.Ticket

	notificationMu sync.Mutex
	notifications  []string
}

func NewStepContext() *StepContext {
	return &StepContext{authHeaders: map[string]string{}}
}
