package cmd

import (
	"bytes"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"motorlink/internal/api"
	"motorlink/internal/registry"
	"motorlink/internal/telemetry"
)

func TestBaseURLFromAddress(t *testing.T) {
	tests := []struct {
		address  string
		expected string
	}{
		{":3000", "http://localhost:3000"},
		{"0.0.0.0:8080", "http://0.0.0.0:8080"},
		{"https://broker.example.com/", "https://broker.example.com"},
	}

	for _, tt := range tests {
		t.Run(tt.address, func(t *testing.T) {
			assert.Equal(t, tt.expected, baseURLFromAddress(tt.address))
		})
	}
}

func TestCheckBrokerStatus(t *testing.T) {
	store, err := telemetry.NewStore(4)
	assert.NoError(t, err)

	reg := registry.New()
	router := mux.NewRouter()
	api.NewAPIServer(reg, store).Routes(router)

	srv := httptest.NewServer(router)
	defer srv.Close()

	var out bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&out)

	statusURL = srv.URL
	defer func() { statusURL = "" }()

	assert.NoError(t, checkBrokerStatus(cmd))
	assert.Contains(t, out.String(), "RUNNING")
	assert.Contains(t, out.String(), "Dashboards")

	out.Reset()
	srv.Close()
	assert.NoError(t, checkBrokerStatus(cmd))
	assert.Contains(t, out.String(), "OFFLINE")
}
