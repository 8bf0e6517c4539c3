package db

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"realmauth/pkg/config"
)

func TestRedactDSN(t *testing.T) {
	assert.Equal(t, "***@db:5432/realmauth", redactDSN("postgres://svc:s3cret@db:5432/realmauth"))
	assert.Equal(t, "postgres://db/realmauth", redactDSN("postgres://db/realmauth"))
}

func TestUnsetURLsReturnNil(t *testing.T) {
	assert.Nil(t, MustConnect(config.Config{}, nil))
	assert.Nil(t, MustRedis(config.Config{}, nil))
}
