package main

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"

	"github.com/hanpama/planexec/internal/eventbus"
	"github.com/hanpama/planexec/internal/realize"
)

const peoplePlan = `{"_type":"inMemory","id":"people",
	"columns":[{"name":"name","type":"String"},{"name":"age","type":"Integer"}],
	"rows":[["ada",36],["alan",41]]}`

const personDescriptors = `{"file":[{"name":"people/people.proto","package":"people","syntax":"proto3",
	"messageType":[{"name":"Person","field":[{"name":"name","number":1,"label":"LABEL_OPTIONAL","type":"TYPE_STRING","jsonName":"name"}]}],
	"service":[{"name":"PersonService","method":[{"name":"GetPerson","inputType":".people.Person","outputType":".people.Person"}]}]}]}`

// runCLI executes the command in an empty working directory so no stray
// config file is picked up.
func runCLI(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()
	t.Chdir(t.TempDir())
	prev := eventbus.Current()
	defer eventbus.Use(prev)

	var stdout, stderr bytes.Buffer
	err := run(context.Background(), args, strings.NewReader(stdin), &stdout, &stderr)
	return stdout.String(), stderr.String(), err
}

func writePlan(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "plan.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestRunInMemoryCSV(t *testing.T) {
	path := writePlan(t, peoplePlan)
	out, _, err := runCLI(t, "", "run", path, "--format", "csv")
	require.NoError(t, err)
	require.Equal(t, "name,age\r\nada,36\r\nalan,41\r\n", out)
}

func TestRunFromStdinToFile(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "out.txt")
	out, _, err := runCLI(t, peoplePlan, "run", "-", "--format", "grid", "--out", dest)
	require.NoError(t, err)
	require.Empty(t, out)

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	require.Contains(t, string(got), "ada")
	require.Contains(t, string(got), "41")
}

func TestRunSQLiteSequence(t *testing.T) {
	db := filepath.Join(t.TempDir(), "people.db")
	conn := `{"type":"sqlite","datasource":{"path":"` + db + `"},"authenticationStrategy":{"_type":"test"}}`
	body := `{"_type":"sequence","id":"root","nodes":[
		{"_type":"sql","id":"create","connection":` + conn + `,"mode":"update","statement":"CREATE TABLE people (name TEXT, age INTEGER)"},
		{"_type":"sql","id":"insert","connection":` + conn + `,"mode":"update","statement":"INSERT INTO people VALUES ('ada', 36), ('alan', 41)"},
		{"_type":"sql","id":"select","connection":` + conn + `,"statement":"SELECT name, age FROM people ORDER BY name",
			"columns":[{"name":"name","type":"String"},{"name":"age","type":"Integer"}]}
	]}`
	out, _, err := runCLI(t, "", "run", writePlan(t, body), "-f", "CSV")
	require.NoError(t, err)
	require.Equal(t, "name,age\r\nada,36\r\nalan,41\r\n", out)
}

func TestRunErrors(t *testing.T) {
	t.Run("unknown format", func(t *testing.T) {
		_, _, err := runCLI(t, "", "run", writePlan(t, peoplePlan), "--format", "xml")
		require.Error(t, err)
	})
	t.Run("invalid plan", func(t *testing.T) {
		_, _, err := runCLI(t, `{"_type":"nope"}`, "run", "-")
		require.Error(t, err)
	})
	t.Run("bad config from env", func(t *testing.T) {
		t.Setenv("PLANEXEC_LOGGING_FORMAT", "xml")
		_, _, err := runCLI(t, "", "run", writePlan(t, peoplePlan))
		require.ErrorContains(t, err, "logging.format")
	})
	t.Run("unknown command", func(t *testing.T) {
		_, _, err := runCLI(t, "", "compile")
		require.Error(t, err)
	})
}

func TestRunOverLimitKeepsStdoutOpen(t *testing.T) {
	t.Setenv("PLANEXEC_EXECUTION_MAX_GENERATION_BYTES", "8")
	stdout, err := os.Create(filepath.Join(t.TempDir(), "stdout"))
	require.NoError(t, err)
	defer stdout.Close()

	t.Chdir(t.TempDir())
	prev := eventbus.Current()
	defer eventbus.Use(prev)
	err = run(context.Background(), []string{"run", writePlan(t, peoplePlan), "--format", "csv"}, strings.NewReader(""), stdout, io.Discard)
	require.True(t, errors.Is(err, realize.ErrSizeLimitExceeded), "%v", err)

	_, err = stdout.WriteString("still open")
	require.NoError(t, err)
}

func TestRunOverLimitClosesOutFile(t *testing.T) {
	t.Setenv("PLANEXEC_EXECUTION_MAX_GENERATION_BYTES", "8")
	dest := filepath.Join(t.TempDir(), "out.csv")
	_, _, err := runCLI(t, "", "run", writePlan(t, peoplePlan), "--format", "csv", "--out", dest)
	require.True(t, errors.Is(err, realize.ErrSizeLimitExceeded), "%v", err)

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	require.LessOrEqual(t, len(got), 8)
}

func TestProto(t *testing.T) {
	body := `{"_type":"grpcCall","id":"g","endpoint":"people.PersonService","method":"people.PersonService/GetPerson",
		"request":"{}","descriptors":` + personDescriptors + `}`
	path := writePlan(t, body)

	out, _, err := runCLI(t, "", "proto", path)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(out, "// people/people.proto\n"), out)
	require.Contains(t, out, "service PersonService {")

	dir := t.TempDir()
	_, _, err = runCLI(t, "", "proto", path, "--out", dir)
	require.NoError(t, err)
	got, err := os.ReadFile(filepath.Join(dir, "people", "people.proto"))
	require.NoError(t, err)
	require.Contains(t, string(got), "message Person {")
}

func TestVersion(t *testing.T) {
	out, _, err := runCLI(t, "", "version")
	require.NoError(t, err)
	require.Contains(t, out, "planexec dev")
	require.Contains(t, out, "graphqlCall")
}
