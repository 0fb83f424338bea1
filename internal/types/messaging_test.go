package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaskMessage_WireFormat(t *testing.T) {
	var msg TaskMessage
	require.NoError(t, json.Unmarshal([]byte(`{"account_id":42,"source_name":"podigee"}`), &msg))
	assert.Equal(t, int64(42), msg.AccountID)
	assert.Equal(t, "podigee", msg.SourceName)
	assert.NoError(t, msg.Validate())
}

func TestTaskMessage_Validate(t *testing.T) {
	err := TaskMessage{SourceName: "spotify"}.Validate()
	assert.True(t, HasCode(err, ErrCodeConfigInvalidTask))

	err = TaskMessage{AccountID: 1, SourceName: "  "}.Validate()
	assert.True(t, HasCode(err, ErrCodeConfigInvalidTask))
	assert.Equal(t, ClassConfiguration, ClassOf(err))
}
