package roleguard

// Role is the role claim carried by an access credential.
type Role string

const (
	SuperAdmin Role = "SUPER_ADMIN"
	Admin      Role = "ADMIN"
	Guide      Role = "GUIDE"
	Tourist    Role = "TOURIST"
)

// Roles lists every known role, most privileged first.
var Roles = []Role{SuperAdmin, Admin, Guide, Tourist}

var landingPages = map[Role]string{
	SuperAdmin: "/dashboard/admin",
	Admin:      "/dashboard/admin",
	Guide:      "/dashboard/guide",
	Tourist:    "/dashboard/tourist",
}

// ParseRole returns the Role named by s.
func ParseRole(s string) (Role, bool) {
	r := Role(s)
	_, ok := landingPages[r]
	return r, ok
}

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	_, ok := landingPages[r]
	return ok
}

// LandingPage is where a signed-in user of role r is sent by default.
func (r Role) LandingPage() string {
	if p, ok := landingPages[r]; ok {
		return p
	}
	return "/"
}

// Satisfies reports whether r may enter an area owned by required.
// SUPER_ADMIN may enter ADMIN areas; no other elevation exists.
func (r Role) Satisfies(required Role) bool {
	return r == required || (r == SuperAdmin && required == Admin)
}

func (r Role) String() string { return string(r) }
