package authz

import (
	"bytes"
	_ "embed"
	"fmt"
	"io"
	"sort"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/viper"
)

type Resource string

const (
	ResourceFunds        Resource = "funds"
	ResourceTransactions Resource = "transactions"
	ResourceReports      Resource = "reports"
	ResourceFundEvents   Resource = "fund_events"
	ResourceChurches     Resource = "churches"
)

type Action string

const (
	ActionRead     Action = "read"
	ActionCreate   Action = "create"
	ActionUpdate   Action = "update"
	ActionDelete   Action = "delete"
	ActionSubmit   Action = "submit"
	ActionApprove  Action = "approve"
	ActionReject   Action = "reject"
	ActionOverride Action = "override"
	ActionArchive  Action = "archive"
	ActionTransfer Action = "transfer"
)

// Scope is the breadth of rows a permission reaches.
type Scope string

const (
	ScopeOwn      Scope = "own"
	ScopeAssigned Scope = "assigned"
	ScopeAll      Scope = "all"
)

func (s Scope) valid() bool {
	return s == ScopeOwn || s == ScopeAssigned || s == ScopeAll
}

var knownResources = map[Resource]bool{
	ResourceFunds: true, ResourceTransactions: true, ResourceReports: true,
	ResourceFundEvents: true, ResourceChurches: true,
}

var knownActions = map[Action]bool{
	ActionRead: true, ActionCreate: true, ActionUpdate: true, ActionDelete: true,
	ActionSubmit: true, ActionApprove: true, ActionReject: true, ActionOverride: true,
	ActionArchive: true, ActionTransfer: true,
}

type permissionKey struct {
	resource Resource
	action   Action
}

// RoleDefinition is one role's entry in the catalog.
type RoleDefinition struct {
	Level       int
	Permissions map[Resource]map[Action]Scope
}

// Catalog is an immutable, versioned role/permission table.
type Catalog struct {
	version int
	levels  map[Role]int
	grants  map[Role]map[permissionKey]Scope
}

// NewCatalog validates defs and builds a Catalog. Every role in AllRoles
// must be defined; all problems are reported together.
func NewCatalog(version int, defs map[Role]RoleDefinition) (*Catalog, error) {
	var result *multierror.Error

	if version <= 0 {
		result = multierror.Append(result, fmt.Errorf("catalog version must be positive, got %d", version))
	}

	c := &Catalog{
		version: version,
		levels:  make(map[Role]int, len(defs)),
		grants:  make(map[Role]map[permissionKey]Scope, len(defs)),
	}

	for _, role := range AllRoles() {
		def, ok := defs[role]
		if !ok {
			result = multierror.Append(result, fmt.Errorf("role %s is not defined", role))
			continue
		}
		if def.Level <= 0 {
			result = multierror.Append(result, fmt.Errorf("role %s: level must be positive", role))
		}
		c.levels[role] = def.Level
		grants := make(map[permissionKey]Scope)
		for res, actions := range def.Permissions {
			if !knownResources[res] {
				result = multierror.Append(result, fmt.Errorf("role %s: unknown resource %q", role, res))
				continue
			}
			for act, scope := range actions {
				if !knownActions[act] {
					result = multierror.Append(result, fmt.Errorf("role %s: unknown action %q on %s", role, act, res))
					continue
				}
				if !scope.valid() {
					result = multierror.Append(result, fmt.Errorf("role %s: invalid scope %q for %s:%s", role, scope, res, act))
					continue
				}
				grants[permissionKey{res, act}] = scope
			}
		}
		c.grants[role] = grants
	}

	for role := range defs {
		if role == RoleUnknown {
			result = multierror.Append(result, fmt.Errorf("catalog defines the unknown role"))
		}
	}

	if err := result.ErrorOrNil(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Catalog) Version() int {
	return c.version
}

// Level returns the role's hierarchy level, 0 for roles outside the catalog.
func (c *Catalog) Level(r Role) int {
	return c.levels[r]
}

// Lookup returns the scope granted to role for (resource, action).
func (c *Catalog) Lookup(r Role, res Resource, act Action) (Scope, bool) {
	scope, ok := c.grants[r][permissionKey{res, act}]
	return scope, ok
}

// Permissions lists a role's grants as "resource:action:scope", sorted.
func (c *Catalog) Permissions(r Role) []string {
	var out []string
	for k, s := range c.grants[r] {
		out = append(out, fmt.Sprintf("%s:%s:%s", k.resource, k.action, s))
	}
	sort.Strings(out)
	return out
}

type rawCatalog struct {
	Version int                `mapstructure:"version"`
	Roles   map[string]rawRole `mapstructure:"roles"`
}

type rawRole struct {
	Level       int                          `mapstructure:"level"`
	Permissions map[string]map[string]string `mapstructure:"permissions"`
}

//go:embed default_catalog.yaml
var defaultCatalogYAML []byte

// DefaultCatalog returns the catalog shipped with the service.
func DefaultCatalog() *Catalog {
	c, err := ParseCatalog(bytes.NewReader(defaultCatalogYAML))
	if err != nil {
		panic(fmt.Sprintf("embedded permission catalog is invalid: %v", err))
	}
	return c
}

// ParseCatalog reads a YAML catalog.
func ParseCatalog(r io.Reader) (*Catalog, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	if err := v.ReadConfig(r); err != nil {
		return nil, fmt.Errorf("error reading permission catalog: %w", err)
	}
	return catalogFromViper(v)
}

// LoadCatalog reads a YAML catalog from path.
func LoadCatalog(path string) (*Catalog, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading permission catalog %s: %w", path, err)
	}
	return catalogFromViper(v)
}

func catalogFromViper(v *viper.Viper) (*Catalog, error) {
	var raw rawCatalog
	if err := v.Unmarshal(&raw); err != nil {
		return nil, fmt.Errorf("error decoding permission catalog: %w", err)
	}

	var result *multierror.Error
	defs := make(map[Role]RoleDefinition, len(raw.Roles))
	for name, rr := range raw.Roles {
		role, err := ParseRole(name)
		if err != nil {
			result = multierror.Append(result, err)
			continue
		}
		perms := make(map[Resource]map[Action]Scope, len(rr.Permissions))
		for res, actions := range rr.Permissions {
			m := make(map[Action]Scope, len(actions))
			for act, scope := range actions {
				m[Action(act)] = Scope(scope)
			}
			perms[Resource(res)] = m
		}
		defs[role] = RoleDefinition{Level: rr.Level, Permissions: perms}
	}
	if err := result.ErrorOrNil(); err != nil {
		return nil, err
	}
	return NewCatalog(raw.Version, defs)
}
