package steps

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"time"

	"github.com/julienschmidt/httprouter"
)

// knownTokens is what the stub authorization service resolves. Anything else
// is turned away, which is how scenarios exercise the 401 path.
var knownTokens = map[string]map[string]string{
	APIToken: {"id": "cucumber-user", "company_id": "cucumber-company"},
}

// StartAuthZService runs a stand-in for the upstream authorization service.
// It resolves known tokens, approves every permission and storage check, and
// records readiness notifications for later steps to assert on. Must run
// before StartApp so the service wires a real client instead of the noop.
func (s *StepContext) StartAuthZService() error {
	router := httprouter.New()

	router.GET("/health/", func(w http.ResponseWriter, req *http.Request, _ httprouter.Params) {
		w.WriteHeader(http.StatusOK)
	})
	router.GET("/user/:token/", func(w http.ResponseWriter, req *http.Request, ps httprouter.Params) {
		user, ok := knownTokens[ps.ByName("token")]
		if !ok {
			writeJSON(w, map[string]interface{}{"data": map[string]string{}})
			return
		}
		writeJSON(w, map[string]interface{}{"data": user})
	})
	router.GET("/company/:company/user/:user/", func(w http.ResponseWriter, req *http.Request, ps httprouter.Params) {
		writeJSON(w, map[string]interface{}{"data": map[string]string{
			"id":         "cu-" + ps.ByName("user"),
			"user_id":    ps.ByName("user"),
			"company_id": ps.ByName("company"),
		}})
	})
	router.GET("/resource/check-upload-permission/:id/", func(w http.ResponseWriter, req *http.Request, _ httprouter.Params) {
		writeJSON(w, map[string]interface{}{"has_permission": true})
	})
	router.GET("/resource/check-storage/:id/", func(w http.ResponseWriter, req *http.Request, _ httprouter.Params) {
		writeJSON(w, map[string]interface{}{"has_storage": true})
	})
	router.GET("/resource/check-video-access/:id/:video/", func(w http.ResponseWriter, req *http.Request, _ httprouter.Params) {
		writeJSON(w, map[string]interface{}{"has_access": true})
	})
	router.PATCH("/resource/video/:id/", func(w http.ResponseWriter, req *http.Request, _ httprouter.Params) {
		writeJSON(w, map[string]interface{}{"success": true})
	})
	router.POST("/notification/send/", func(w http.ResponseWriter, req *http.Request, _ httprouter.Params) {
		var notification struct {
			Type    string `json:"type"`
			VideoID string `json:"video_id"`
		}
		if err := json.NewDecoder(req.Body).Decode(&notification); err == nil {
			s.notificationMu.Lock()
			s.notifications = append(s.notifications, notification.Type+":"+notification.VideoID)
			s.notificationMu.Unlock()
		}
		writeJSON(w, map[string]interface{}{"success": true})
	})

	s.authzServer = httptest.NewServer(router)
	return nil
}

// CheckReadyNotification waits for the readiness callback, which the pipeline
// sends after the record is already marked ready.
func (s *StepContext) CheckReadyNotification(timeoutSecs int) error {
	deadline := time.Now().Add(time.Duration(timeoutSecs) * time.Second)
	for time.Now().Before(deadline) {
		s.notificationMu.Lock()
		for _, notification := range s.notifications {
			if strings.HasPrefix(notification, "video_ready:") {
				s.notificationMu.Unlock()
				return nil
			}
		}
		s.notificationMu.Unlock()
		time.Sleep(25 * time.Millisecond)
	}
	return fmt.Errorf("no video_ready notification arrived within %d seconds", timeoutSecs)
}

func writeJSON(w http.ResponseWriter, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(body)
}
