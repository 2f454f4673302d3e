// Package dashboard selects the home-screen content for a profile's role.
// Role is a closed enum with an explicit default arm: any unrecognized or
// empty role name falls back to the client view instead of failing.
package dashboard

import "strings"

type Role int

const (
	RoleClient Role = iota
	RoleVeterinarian
)

const vetRoleName = "veterinario"

// ParseRole maps the server-assigned role name onto the enum.
func ParseRole(roleName string) Role {
	switch strings.ToLower(strings.TrimSpace(roleName)) {
	case vetRoleName:
		return RoleVeterinarian
	default:
		return RoleClient
	}
}

func (r Role) String() string {
	if r == RoleVeterinarian {
		return vetRoleName
	}
	return "cliente"
}

// Title is the subtitle shown under the greeting.
func (r Role) Title() string {
	if r == RoleVeterinarian {
		return "Veterinario Principal"
	}
	return "Cliente"
}

type Stat struct {
	Label string
	Value string
}

type Activity struct {
	Title string
	Desc  string
}

type Action struct {
	Label string
}

// View is the role-dependent home content. The entries are static app copy;
// live counts are a backend feature this client does not have yet.
type View struct {
	Stats      []Stat
	Activities []Activity
	Actions    []Action
}

var vetView = View{
	Stats: []Stat{
		{Label: "Citas Pendientes", Value: "5"},
		{Label: "Mensajes Nuevos", Value: "2"},
	},
	Activities: []Activity{
		{Title: "Consulta programada", Desc: "Luna - 10:00 AM, 2 Sep"},
		{Title: "Vacuna aplicada", Desc: "Rocky - 1 Sep"},
	},
	Actions: []Action{
		{Label: "Ver Pacientes"},
		{Label: "Agenda del Día"},
		{Label: "Mensajes"},
		{Label: "Nueva Cita"},
	},
}

var clientView = View{
	Stats: []Stat{
		{Label: "Próxima Cita", Value: "12 Sep"},
		{Label: "Mensajes", Value: "1"},
	},
	Activities: []Activity{
		{Title: "Vacuna programada", Desc: "10:00 AM, 12 Sep"},
		{Title: "Consulta realizada", Desc: "1 Sep"},
	},
	Actions: []Action{
		{Label: "Mis Mascotas"},
		{Label: "Agendar Cita"},
		{Label: "Mensajes"},
		{Label: "Historial"},
	},
}

// ForRole returns the view for a role. Copies, so callers can't mutate the
// shared sets.
func ForRole(r Role) View {
	src := clientView
	if r == RoleVeterinarian {
		src = vetView
	}
	return View{
		Stats:      append([]Stat(nil), src.Stats...),
		Activities: append([]Activity(nil), src.Activities...),
		Actions:    append([]Action(nil), src.Actions...),
	}
}

// Greeting builds the header line, "Dr." prefixed for veterinarians.
func Greeting(r Role, fullName string) string {
	name := ShortName(fullName)
	if r == RoleVeterinarian {
		return "Hola, Dr. " + name
	}
	return "Hola, " + name
}

// ShortName keeps only the first two words of a full name.
func ShortName(fullName string) string {
	parts := strings.Fields(strings.TrimSpace(fullName))
	switch {
	case len(parts) == 0:
		return ""
	case len(parts) == 1:
		return parts[0]
	default:
		return parts[0] + " " + parts[1]
	}
}
