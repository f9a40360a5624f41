package integrationtests

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
)

func writeJson(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

type sentMail struct {
	To      string
	Subject string
	Text    string
}

// mailbox serves the mailgun messages endpoint and keeps every message sent
// through it.
type mailbox struct {
	server *httptest.Server

	mu   sync.Mutex
	sent []sentMail
}

func newMailbox(t *testing.T) *mailbox {
	m := &mailbox{}

	r := chi.NewRouter()
	r.Post("/{domain}/messages", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		m.mu.Lock()
		m.sent = append(m.sent, sentMail{To: r.FormValue("to"), Subject: r.FormValue("subject"), Text: r.FormValue("text")})
		m.mu.Unlock()
		writeJson(w, http.StatusOK, map[string]string{"id": "<queued@mailgun.test>", "message": "Queued. Thank you."})
	})

	m.server = httptest.NewServer(r)
	t.Cleanup(m.server.Close)
	return m
}

var codePattern = regexp.MustCompile(`\b(\d{6})\b`)

// lastCode returns the code in the most recent message sent to email.
func (m *mailbox) lastCode(email string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := len(m.sent) - 1; i >= 0; i-- {
		if m.sent[i].To != email {
			continue
		}
		match := codePattern.FindStringSubmatch(m.sent[i].Text)
		if match == nil {
			return "", fmt.Errorf("message '%v' to %v contains no code", m.sent[i].Subject, email)
		}
		return match[1], nil
	}
	return "", fmt.Errorf("no message sent to %v", email)
}

const (
	chirpstackToken  = "chirpstack-api-token"
	chirpstackTenant = "52f14cd4-c6f1-4fbd-8f87-4025e1d49242"
)

// fakeChirpstack implements the parts of the chirpstack rest api used for
// provider setup and device provisioning.
type fakeChirpstack struct {
	server *httptest.Server

	mu           sync.Mutex
	nextId       int
	applications map[string]map[string]interface{}
	integrations map[string]map[string]interface{}
	profiles     map[string]map[string]interface{}
	devices      map[string]map[string]interface{}
	keys         map[string]map[string]interface{}
	queue        map[string][]map[string]interface{}
}

func newFakeChirpstack(t *testing.T) *fakeChirpstack {
	f := &fakeChirpstack{
		applications: map[string]map[string]interface{}{},
		integrations: map[string]map[string]interface{}{},
		profiles:     map[string]map[string]interface{}{},
		devices:      map[string]map[string]interface{}{},
		keys:         map[string]map[string]interface{}{},
		queue:        map[string][]map[string]interface{}{},
	}

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Grpc-Metadata-Authorization") != "Bearer "+chirpstackToken {
				writeJson(w, http.StatusUnauthorized, map[string]string{"error": "authentication failed"})
				return
			}
			f.mu.Lock()
			defer f.mu.Unlock()
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/api/device-profiles/adr-algorithms", func(w http.ResponseWriter, r *http.Request) {
		writeJson(w, http.StatusOK, map[string]interface{}{"totalCount": 1, "result": []map[string]string{{"id": "default", "name": "Default ADR algorithm"}}})
	})

	r.Post("/api/applications", func(w http.ResponseWriter, r *http.Request) {
		body, ok := decodeObject(w, r, "application")
		if !ok {
			return
		}
		id := f.newId("app")
		f.applications[id] = body
		writeJson(w, http.StatusOK, map[string]string{"id": id})
	})

	r.Get("/api/applications/{id}", func(w http.ResponseWriter, r *http.Request) {
		f.getObject(w, f.applications, chi.URLParam(r, "id"), "application")
	})

	r.Get("/api/applications/{id}/integrations/http", func(w http.ResponseWriter, r *http.Request) {
		f.getObject(w, f.integrations, chi.URLParam(r, "id"), "integration")
	})

	putIntegration := func(w http.ResponseWriter, r *http.Request) {
		body, ok := decodeObject(w, r, "integration")
		if !ok {
			return
		}
		f.integrations[chi.URLParam(r, "id")] = body
		writeJson(w, http.StatusOK, map[string]interface{}{})
	}
	r.Post("/api/applications/{id}/integrations/http", putIntegration)
	r.Put("/api/applications/{id}/integrations/http", putIntegration)

	r.Post("/api/device-profiles", func(w http.ResponseWriter, r *http.Request) {
		body, ok := decodeObject(w, r, "deviceProfile")
		if !ok {
			return
		}
		id := f.newId("profile")
		f.profiles[id] = body
		writeJson(w, http.StatusOK, map[string]string{"id": id})
	})

	r.Post("/api/devices", func(w http.ResponseWriter, r *http.Request) {
		body, ok := decodeObject(w, r, "device")
		if !ok {
			return
		}
		eui, _ := body["devEui"].(string)
		if _, exists := f.devices[eui]; exists {
			writeJson(w, http.StatusConflict, map[string]string{"error": "object already exists"})
			return
		}
		if _, ok := f.profiles[fmt.Sprint(body["deviceProfileId"])]; !ok {
			writeJson(w, http.StatusBadRequest, map[string]string{"error": "device profile does not exist"})
			return
		}
		f.devices[eui] = body
		writeJson(w, http.StatusOK, map[string]interface{}{})
	})

	r.Route("/api/devices/{eui}", func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, r *http.Request) {
			f.getObject(w, f.devices, chi.URLParam(r, "eui"), "device")
		})

		r.Delete("/", func(w http.ResponseWriter, r *http.Request) {
			eui := chi.URLParam(r, "eui")
			if _, ok := f.devices[eui]; !ok {
				writeJson(w, http.StatusNotFound, map[string]string{"error": "object does not exist"})
				return
			}
			delete(f.devices, eui)
			delete(f.keys, eui)
			writeJson(w, http.StatusOK, map[string]interface{}{})
		})

		r.Post("/keys", func(w http.ResponseWriter, r *http.Request) {
			eui := chi.URLParam(r, "eui")
			body, ok := decodeObject(w, r, "deviceKeys")
			if !ok {
				return
			}
			if _, ok := f.devices[eui]; !ok {
				writeJson(w, http.StatusNotFound, map[string]string{"error": "object does not exist"})
				return
			}
			f.keys[eui] = body
			writeJson(w, http.StatusOK, map[string]interface{}{})
		})

		r.Post("/queue", func(w http.ResponseWriter, r *http.Request) {
			eui := chi.URLParam(r, "eui")
			body, ok := decodeObject(w, r, "queueItem")
			if !ok {
				return
			}
			if _, ok := f.devices[eui]; !ok {
				writeJson(w, http.StatusNotFound, map[string]string{"error": "object does not exist"})
				return
			}
			f.queue[eui] = append(f.queue[eui], body)
			writeJson(w, http.StatusOK, map[string]string{"id": f.newId("queue")})
		})
	})

	f.server = httptest.NewServer(r)
	t.Cleanup(f.server.Close)
	return f
}

func decodeObject(w http.ResponseWriter, r *http.Request, key string) (map[string]interface{}, bool) {
	var body map[string]map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJson(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return nil, false
	}
	obj, ok := body[key]
	if !ok {
		writeJson(w, http.StatusBadRequest, map[string]string{"error": "missing " + key})
		return nil, false
	}
	return obj, true
}

func (f *fakeChirpstack) newId(kind string) string {
	f.nextId++
	return fmt.Sprintf("%v-%d", kind, f.nextId)
}

func (f *fakeChirpstack) getObject(w http.ResponseWriter, objects map[string]map[string]interface{}, id, key string) {
	obj, ok := objects[id]
	if !ok {
		writeJson(w, http.StatusNotFound, map[string]string{"error": "object does not exist"})
		return
	}
	writeJson(w, http.StatusOK, map[string]interface{}{key: obj})
}

func (f *fakeChirpstack) device(eui string) (map[string]interface{}, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.devices[strings.ToLower(eui)]
	return d, ok
}

func (f *fakeChirpstack) queued(eui string) []map[string]interface{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.queue[strings.ToLower(eui)]
}

func (f *fakeChirpstack) webhook(applicationId string) (map[string]interface{}, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i, ok := f.integrations[applicationId]
	return i, ok
}

const influxToken = "influx-api-token"

// fakeInflux keeps written line protocol per bucket and answers every query
// with the csv set by the test.
type fakeInflux struct {
	server *httptest.Server

	mu        sync.Mutex
	lines     map[string][]string
	queries   []string
	deletes   []map[string]string
	csvResult string
}

func newFakeInflux(t *testing.T) *fakeInflux {
	f := &fakeInflux{lines: map[string][]string{}}

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") != "Token "+influxToken {
				writeJson(w, http.StatusUnauthorized, map[string]string{"code": "unauthorized", "message": "unauthorized access"})
				return
			}
			if r.URL.Query().Get("org") == "" {
				writeJson(w, http.StatusBadRequest, map[string]string{"code": "invalid", "message": "org is required"})
				return
			}
			f.mu.Lock()
			defer f.mu.Unlock()
			next.ServeHTTP(w, r)
		})
	})

	r.Post("/api/v2/write", func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		bucket := r.URL.Query().Get("bucket")
		f.lines[bucket] = append(f.lines[bucket], strings.Split(string(body), "\n")...)
		w.WriteHeader(http.StatusNoContent)
	})

	r.Post("/api/v2/query", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Query string `json:"query"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeJson(w, http.StatusBadRequest, map[string]string{"code": "invalid", "message": err.Error()})
			return
		}
		f.queries = append(f.queries, body.Query)
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		_, _ = io.WriteString(w, f.csvResult)
	})

	r.Post("/api/v2/delete", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeJson(w, http.StatusBadRequest, map[string]string{"code": "invalid", "message": err.Error()})
			return
		}
		body["bucket"] = r.URL.Query().Get("bucket")
		f.deletes = append(f.deletes, body)
		w.WriteHeader(http.StatusNoContent)
	})

	f.server = httptest.NewServer(r)
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeInflux) respondWith(csv string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.csvResult = csv
}

func (f *fakeInflux) written(bucket string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string{}, f.lines[bucket]...)
}

func (f *fakeInflux) lastQuery() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.queries) == 0 {
		return ""
	}
	return f.queries[len(f.queries)-1]
}

func (f *fakeInflux) lastDelete() map[string]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.deletes) == 0 {
		return nil
	}
	return f.deletes[len(f.deletes)-1]
}
