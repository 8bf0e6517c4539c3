package provisioning

import (
	"slices"

	"realmauth/pkg/keycloak"
)

// Roles seeded into every company realm.
const (
	RoleAdmin      = "Admin"
	RoleEmployee   = "Employee"
	RoleAccountant = "Accountant"
	RoleSupervisor = "Supervisor"
)

var catalog = []keycloak.RoleSpec{
	{Name: RoleAdmin, Description: "Full administrative access to the company"},
	{Name: RoleEmployee, Description: "Regular company employee"},
	{Name: RoleAccountant, Description: "Access to accounting features"},
	{Name: RoleSupervisor, Description: "Supervises employees and approves their work"},
}

// Catalog returns the company role catalog in seeding order.
func Catalog() []keycloak.RoleSpec {
	return slices.Clone(catalog)
}

func IsCatalogRole(name string) bool {
	return slices.ContainsFunc(catalog, func(r keycloak.RoleSpec) bool { return r.Name == name })
}
