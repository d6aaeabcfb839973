package database

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/paideia-lms/Paideia-sub010/pkg/config"
)

func TestDSN(t *testing.T) {
	dsn := DSN(config.DatabaseConfig{Host: "db", Port: 5433, User: "grader", Password: "pw", Name: "paideia", SSLMode: "require"})
	assert.Equal(t, "host=db port=5433 user=grader password=pw dbname=paideia sslmode=require application_name=paideia-gradebook connect_timeout=5", dsn)
}
