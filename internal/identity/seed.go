package identity

import (
	"context"
	"fmt"
)

const (
	demoAdminPassword    = "admin123"
	demoCustomerPassword = "senha123"
	demoAdmins           = 2
	demoCustomers        = 10
)

// SeedDemoUsers creates the demo admins and customers when the user store is
// empty. It returns the number of users created.
func SeedDemoUsers(ctx context.Context, svc *Service) (int, error) {
	count, err := svc.repo.Count(ctx)
	if err != nil {
		return 0, err
	}
	if count > 0 {
		return 0, nil
	}

	created := 0
	for i := 1; i <= demoAdmins; i++ {
		if _, err := svc.Register(ctx, RegisterInput{Username: fmt.Sprintf("admin%d", i), Password: demoAdminPassword, Role: RoleAdmin}); err != nil {
			return created, fmt.Errorf("seed admin%d: %w", i, err)
		}
		created++
	}
	for i := 1; i <= demoCustomers; i++ {
		if _, err := svc.Register(ctx, RegisterInput{Username: fmt.Sprintf("cliente%d", i), Password: demoCustomerPassword, Role: RoleCustomer}); err != nil {
			return created, fmt.Errorf("seed cliente%d: %w", i, err)
		}
		created++
	}
	return created, nil
}
