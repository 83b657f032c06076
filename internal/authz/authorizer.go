// Package authz derives the three authorization facts the Orchestrator
// needs — is_creator, is_member, identity_for — as pure reads against the
// Store, with no caching and no side effects of their own.
package authz

import (
	"context"
	"fmt"

	"github.com/windowmeet/core/internal/model"
	"github.com/windowmeet/core/internal/store"
)

// Authorizer answers the three authorization questions spec.md §4.5 names.
type Authorizer struct {
	store store.Store
}

// New returns an Authorizer reading against the given Store.
func New(s store.Store) *Authorizer {
	return &Authorizer{store: s}
}

// IsCreator reports whether userID created eventID.
func (a *Authorizer) IsCreator(ctx context.Context, eventID, userID string) (bool, error) {
	row, ok, err := a.store.Get(ctx, model.TableEvents, "event_id", eventID)
	if err != nil {
		return false, fmt.Errorf("authz: load event %s: %w", eventID, err)
	}
	if !ok {
		return false, model.Errorf(model.KindNotFound, "event %s not found", eventID)
	}
	return row.(model.Event).CreatorUserID == userID, nil
}

// IsMember reports whether userID holds a Membership row for eventID.
func (a *Authorizer) IsMember(ctx context.Context, eventID, userID string) (bool, error) {
	rows, err := a.store.GetMany(ctx, model.TableMemberships, "event_id", eventID)
	if err != nil {
		return false, fmt.Errorf("authz: load memberships for %s: %w", eventID, err)
	}
	for _, row := range rows {
		if row.(model.Membership).UserID == userID {
			return true, nil
		}
	}
	return false, nil
}

// IdentityFor resolves a chat-adapter identity to a User, creating one if this
// is the first time the identity has been seen.
func (a *Authorizer) IdentityFor(ctx context.Context, chatIdentity, displayName string, newID func() string) (model.User, error) {
	row, ok, err := a.store.Get(ctx, model.TableUsers, "chat_identity", chatIdentity)
	if err != nil {
		return model.User{}, fmt.Errorf("authz: lookup identity %s: %w", chatIdentity, err)
	}
	if ok {
		return row.(model.User), nil
	}
	u := model.User{ID: newID(), ChatIdentity: chatIdentity, DisplayName: displayName}
	if err := a.store.Insert(ctx, model.TableUsers, u); err != nil {
		return model.User{}, fmt.Errorf("authz: create user for %s: %w", chatIdentity, err)
	}
	return u, nil
}

// RequireCreator is a convenience wrapper that turns a false IsCreator result
// into a KindUnauthorized error, the shape every Orchestrator mutation needs.
func (a *Authorizer) RequireCreator(ctx context.Context, eventID, userID string) error {
	ok, err := a.IsCreator(ctx, eventID, userID)
	if err != nil {
		return err
	}
	if !ok {
		return model.Errorf(model.KindUnauthorized, "user %s is not the creator of event %s", userID, eventID)
	}
	return nil
}
