// Package fakedata generates demo users for local environments.
package fakedata

import (
	"fmt"

	"github.com/brianvoe/gofakeit/v7"

	"github.com/hackgods/clinic-appointment-scheduling/internal/notification"
)

type UserCounts struct {
	Admins        int
	Practitioners int
	Patients      int
}

// Users returns counts.Admins admins, then practitioners, then patients.
// Ids are stable for a given faker seed.
func Users(f *gofakeit.Faker, counts UserCounts) []notification.UserRef {
	groups := []struct {
		role  notification.Role
		count int
	}{
		{notification.RoleAdmin, counts.Admins},
		{notification.RolePractitioner, counts.Practitioners},
		{notification.RolePatient, counts.Patients},
	}

	var out []notification.UserRef
	for _, g := range groups {
		for i := 0; i < g.count; i++ {
			email := f.Email()
			out = append(out, notification.UserRef{
				ID:    fmt.Sprintf("%s-%s", g.role, f.UUID()),
				Role:  g.role,
				Name:  f.Name(),
				Email: &email,
			})
		}
	}
	return out
}
