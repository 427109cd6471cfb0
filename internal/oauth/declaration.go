package oauth

// Particle cloud defaults. The public client credentials are the ones the
// official tooling uses for password and refresh grants.
const (
	DefaultTokenURL     = "https://api.particle.io/oauth/token"
	DefaultClientID     = "particle"
	DefaultClientSecret = "particle"
)

// Declaration defines where a token comes from and where its state lives.
type Declaration struct {
	Provider  string
	TokenURL  string
	Scope     string
	StatePath string
}
