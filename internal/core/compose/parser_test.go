package compose

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const stackYAML = `
services:
  api:
    build:
      context: ./vabhub-core
    ports:
      - "8000:8000"
    environment:
      DATABASE_URL: postgres://vabhub:secret@db:5432/vabhub
      REDIS_URL: redis://redis:6379/0
    depends_on:
      - db
      - redis
    restart: unless-stopped
  frontend:
    build:
      context: ./vabhub-frontend
    ports:
      - "3000:3000"
    depends_on:
      - api
  db:
    image: postgres:16-alpine
    volumes:
      - pgdata:/var/lib/postgresql/data
    healthcheck:
      test: ["CMD", "pg_isready", "-U", "vabhub"]
      interval: 10s
      retries: 5
  redis:
    image: redis:7-alpine
volumes:
  pgdata:
`

// =============================================================================
// Parse Tests
// =============================================================================

func TestParse(t *testing.T) {
	spec, err := Parse(stackYAML)
	require.NoError(t, err)
	require.Len(t, spec.Services, 4)

	api, ok := spec.Service("api")
	require.True(t, ok)
	require.NotNil(t, api.Build)
	assert.Equal(t, "./vabhub-core", api.Build.Context)
	assert.ElementsMatch(t, []string{"db", "redis"}, api.DependsOn)
	assert.Equal(t, RestartUnlessStopped, api.Restart)
	require.Len(t, api.Ports, 1)
	assert.Equal(t, uint32(8000), api.Ports[0].Target)
	assert.Equal(t, uint32(8000), api.Ports[0].Published)

	db, ok := spec.Service("db")
	require.True(t, ok)
	assert.Equal(t, "postgres:16-alpine", db.Image)
	require.NotNil(t, db.HealthCheck)
	assert.Equal(t, 5, db.HealthCheck.Retries)
	require.Len(t, db.Volumes, 1)
	assert.Equal(t, VolumeMountTypeVolume, db.Volumes[0].Type)

	require.Len(t, spec.Volumes, 1)
	assert.Equal(t, "pgdata", spec.Volumes[0].Name)
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr error
	}{
		{
			name:    "empty input",
			yaml:    "   \n",
			wantErr: ErrEmptyInput,
		},
		{
			name:    "invalid yaml",
			yaml:    "services: [unclosed",
			wantErr: ErrInvalidYAML,
		},
		{
			name:    "no services",
			yaml:    "volumes:\n  data:\n",
			wantErr: ErrNoServices,
		},
		{
			name:    "service without image or build",
			yaml:    "services:\n  api:\n    restart: always\n",
			wantErr: ErrServiceNoImage,
		},
		{
			name:    "secrets unsupported",
			yaml:    "services:\n  api:\n    image: a\nsecrets:\n  tok:\n    file: ./tok\n",
			wantErr: ErrUnsupportedFeature,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.yaml)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestParseCircularDependency(t *testing.T) {
	_, err := Parse(`
services:
  a:
    image: a
    depends_on: [b]
  b:
    image: b
    depends_on: [a]
`)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCircularDependency)
}

func TestParseInvalidPort(t *testing.T) {
	_, err := Parse(`
services:
  api:
    image: a
    ports:
      - target: 0
`)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrServiceInvalidPort)
}

// =============================================================================
// Variable Tests
// =============================================================================

func TestExtractVariables(t *testing.T) {
	yaml := `
services:
  api:
    image: vabhub/core:${CORE_VERSION}
    environment:
      DATABASE_URL: postgres://${DB_USER}:${DB_PASSWORD}@db:5432/vabhub
      LOG_LEVEL: ${LOG_LEVEL:-info}
      REPEAT: ${CORE_VERSION}
`
	vars := ExtractVariables(yaml)
	assert.Equal(t, []string{"CORE_VERSION", "DB_USER", "DB_PASSWORD", "LOG_LEVEL"}, vars)
}

func TestSubstitute(t *testing.T) {
	yaml := "image: vabhub/core:${CORE_VERSION}\nlog: ${LOG_LEVEL:-info}\n"
	out, err := Substitute(yaml, map[string]string{"CORE_VERSION": "2.3.0"})
	require.NoError(t, err)
	assert.Equal(t, "image: vabhub/core:2.3.0\nlog: info\n", out)
}

func TestSubstituteMissingVariable(t *testing.T) {
	_, err := Substitute("image: vabhub/core:${CORE_VERSION}", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMissingVariable)
	assert.Contains(t, err.Error(), "CORE_VERSION")
}

func TestSubstituteValueLenient(t *testing.T) {
	out := SubstituteValue("postgres://${DB_USER}:${DB_PASSWORD}@db", map[string]string{"DB_USER": "vabhub"})
	assert.Equal(t, "postgres://vabhub:${DB_PASSWORD}@db", out)
}

func TestSubstituteExplicitValueBeatsDefault(t *testing.T) {
	out, err := Substitute("log: ${LOG_LEVEL:-info}", map[string]string{"LOG_LEVEL": "debug"})
	require.NoError(t, err)
	assert.Equal(t, "log: debug", out)
}

// =============================================================================
// Ordering Tests
// =============================================================================

func TestStartOrder(t *testing.T) {
	spec, err := Parse(stackYAML)
	require.NoError(t, err)

	ordered := StartOrder(spec.Services)
	pos := make(map[string]int, len(ordered))
	for i, svc := range ordered {
		pos[svc.Name] = i
	}
	assert.Less(t, pos["db"], pos["api"])
	assert.Less(t, pos["redis"], pos["api"])
	assert.Less(t, pos["api"], pos["frontend"])
}

func TestStopOrder(t *testing.T) {
	services := []Service{
		{Name: "frontend", DependsOn: []string{"api"}},
		{Name: "api", DependsOn: []string{"db"}},
		{Name: "db"},
	}
	ordered := StopOrder(services)
	assert.Equal(t, "frontend", ordered[0].Name)
	assert.Equal(t, "db", ordered[2].Name)
}

func TestStartOrderEmpty(t *testing.T) {
	assert.Empty(t, StartOrder(nil))
}
