package match

import "github.com/google/uuid"

func newAlertID() string {
	return uuid.NewString()
}
