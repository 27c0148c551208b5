package permissions

import "context"

// Gate answers whether a user may lock a resource. Implementations must
// fail closed: any failure of the underlying authorization query is an
// error, never an implicit grant.
type Gate interface {
	CanLock(ctx context.Context, userID, resource string) (bool, error)
}

// mutatingOps are the permission actions that imply a user can change a
// resource and therefore may lock it for editing.
var mutatingOps = []string{"create", "update", "delete", "publish"}
