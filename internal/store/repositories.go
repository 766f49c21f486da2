package store

// Repositories bundles one store per entity type. It is built once at
// startup and handed to the coordinator.
type Repositories struct {
	Users       *Users
	Sessions    *Sessions
	Connections *Connections
	Recordings  *Recordings
}

func NewRepositories() *Repositories {
	return &Repositories{
		Users:       NewUsers(),
		Sessions:    NewSessions(),
		Connections: NewConnections(),
		Recordings:  NewRecordings(),
	}
}
