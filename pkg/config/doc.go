// Package config loads gatehouse configuration from GATEHOUSE_*
// environment variables with validated defaults. Durations use Go
// duration syntax ("72h", "5m"); booleans accept "true"/"1".
package config
