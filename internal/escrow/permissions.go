package escrow

import "sync"

// Capability names an administrative action an actor may perform.
type Capability string

const (
	CapPause         Capability = "pause"
	CapUnpause       Capability = "unpause"
	CapClaimProtocol Capability = "claim_protocol"
)

// Permissions is a capability table keyed by (actor, capability). The
// operator profile is granted the administrative set at startup; further
// grants are explicit.
type Permissions struct {
	mu     sync.RWMutex
	grants map[int64]map[Capability]bool
}

// NewPermissions creates an empty capability table.
func NewPermissions() *Permissions {
	return &Permissions{grants: make(map[int64]map[Capability]bool)}
}

// GrantOperator gives a profile the full administrative capability set.
func (p *Permissions) GrantOperator(actorID int64) {
	p.Grant(actorID, CapPause)
	p.Grant(actorID, CapUnpause)
	p.Grant(actorID, CapClaimProtocol)
}

// Grant records that actor may perform cap.
func (p *Permissions) Grant(actorID int64, cap Capability) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.grants[actorID] == nil {
		p.grants[actorID] = make(map[Capability]bool)
	}
	p.grants[actorID][cap] = true
}

// Revoke removes a capability from an actor.
func (p *Permissions) Revoke(actorID int64, cap Capability) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.grants[actorID], cap)
}

// Has reports whether actor may perform cap.
func (p *Permissions) Has(actorID int64, cap Capability) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.grants[actorID][cap]
}
