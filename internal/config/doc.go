// Package config defines the alarm monitor settings and provides helpers to
// load, validate and save them in YAML format.
//
// Values are read from the YAML file first, then from an optional .env file
// and the process environment (DATABASE_URL, PORT, MQTT_USERNAME,
// MQTT_PASSWORD), and are finally defaulted and validated.
package config
