// Package auth decides which clients may call which TaskService methods.
// gRPC clients are identified by their mTLS certificate, whose first
// Organizational Unit names their Role; HTTP clients present a signed token
// carrying the Role instead.
package auth

import (
	"context"
	"errors"
	"fmt"
	"slices"

	api "github.com/nixpig/jobsearch/api/v1"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/peer"
)

var (
	ErrUnknownMethod = errors.New("method not in method permissions")
	ErrUnknownRole   = errors.New("role not in role permissions")
	ErrForbidden     = errors.New("required permission not granted to role")
)

type Permission string

const (
	PermissionTaskStart  Permission = "task:start"
	PermissionTaskQuery  Permission = "task:query"
	PermissionTaskRemove Permission = "task:remove"
	PermissionTaskWatch  Permission = "task:watch"
)

type Role string

const (
	RoleOperator Role = "operator"
	RoleViewer   Role = "viewer"
)

var RolePermissions = map[Role][]Permission{
	RoleOperator: {
		PermissionTaskStart,
		PermissionTaskQuery,
		PermissionTaskRemove,
		PermissionTaskWatch,
	},
	RoleViewer: {PermissionTaskQuery, PermissionTaskWatch},
}

// MethodPermissions is the Permission required by each TaskService method.
var MethodPermissions = map[string]Permission{
	api.TaskService_StartTask_FullMethodName:  PermissionTaskStart,
	api.TaskService_QueryTask_FullMethodName:  PermissionTaskQuery,
	api.TaskService_RemoveTask_FullMethodName: PermissionTaskRemove,
	api.TaskService_WatchTask_FullMethodName:  PermissionTaskWatch,
}

// HasPermission returns nil if role is granted p.
func HasPermission(role Role, p Permission) error {
	permissions, ok := RolePermissions[role]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownRole, role)
	}

	if !slices.Contains(permissions, p) {
		return fmt.Errorf("%w: %s", ErrForbidden, p)
	}

	return nil
}

// IsAuthorised returns nil if role may call the gRPC method.
func IsAuthorised(role Role, method string) error {
	p, exists := MethodPermissions[method]
	if !exists {
		return fmt.Errorf("%w: %s", ErrUnknownMethod, method)
	}

	return HasPermission(role, p)
}

// GetClientIdentity returns the Common Name and first Organizational Unit of
// the verified client certificate of the peer in ctx.
func GetClientIdentity(ctx context.Context) (string, string, error) {
	p, ok := peer.FromContext(ctx)
	if !ok {
		return "", "", errors.New("failed to get peer info from context")
	}

	tlsInfo, ok := p.AuthInfo.(credentials.TLSInfo)
	if !ok {
		return "", "", errors.New("failed to get TLS info from peer auth info")
	}

	if len(tlsInfo.State.VerifiedChains) == 0 ||
		len(tlsInfo.State.VerifiedChains[0]) == 0 {
		return "", "", errors.New("no verified chains in TLS info")
	}

	cert := tlsInfo.State.VerifiedChains[0][0]

	cn := cert.Subject.CommonName

	var ou string
	if len(cert.Subject.OrganizationalUnit) > 0 {
		ou = cert.Subject.OrganizationalUnit[0]
	}

	return cn, ou, nil
}

// Authorise checks that the peer in ctx may call method and returns its
// Common Name.
func Authorise(ctx context.Context, method string) (string, error) {
	cn, ou, err := GetClientIdentity(ctx)
	if err != nil {
		return "", fmt.Errorf("get client identity: %w", err)
	}

	if err := IsAuthorised(Role(ou), method); err != nil {
		return cn, fmt.Errorf("authorise client: %w", err)
	}

	return cn, nil
}
