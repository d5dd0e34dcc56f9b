package validator

import (
	"testing"

	"github.com/pauljones0/story-monitor/internal/models"
)

func TestValidator_ValidateAccount(t *testing.T) {
	v := New()

	tests := []struct {
		name    string
		account models.Account
		wantErr bool
	}{
		{
			name:    "Valid Account",
			account: models.Account{ID: "user-1", Handle: "alice"},
			wantErr: false,
		},
		{
			name:    "Missing ID",
			account: models.Account{Handle: "alice"},
			wantErr: true,
		},
		{
			name:    "Missing Handle",
			account: models.Account{ID: "user-1"},
			wantErr: true,
		},
		{
			name:    "Numeric Handle",
			account: models.Account{ID: "user-1", Handle: "123456"},
			wantErr: true,
		},
		{
			name:    "Handle With Space",
			account: models.Account{ID: "user-1", Handle: "alice smith"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := v.ValidateStruct(tt.account); (err != nil) != tt.wantErr {
				t.Errorf("ValidateStruct() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
