// Package thermal exposes an HTTP interface to thermal controllers
package thermal

import (
	"net/http"

	"github.com/nasa-jpl/cryosweep/generichttp"
)

// Controller is a thermal controller with a single channel
type Controller interface {
	// Temperature gets the temperature in K
	Temperature() (float64, error)

	// SetTemperature ramps to a setpoint in K
	SetTemperature(float64) error
}

// GetTemperature returns an HTTP handler func that returns the temperature over HTTP
func GetTemperature(c Controller) http.HandlerFunc {
	return generichttp.GetFloat(c.Temperature)
}

// SetTemperature returns an HTTP handler func that sets the temperature setpoint over HTTP
func SetTemperature(c Controller) http.HandlerFunc {
	return generichttp.SetFloat(c.SetTemperature)
}

// HTTPController binds routes to control temperature to the table under stem
func HTTPController(c Controller, stem string, table generichttp.RouteTable) {
	table[generichttp.MethodPath{Method: http.MethodGet, Path: stem + "/temperature"}] = GetTemperature(c)
	table[generichttp.MethodPath{Method: http.MethodPost, Path: stem + "/temperature"}] = SetTemperature(c)
}
