package results_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nixpig/jobsearch/internal/results"
	"github.com/stretchr/testify/require"
)

func TestRead(t *testing.T) {
	google := results.Job{
		Title:    "Software Engineer",
		Company:  "Google",
		Link:     "https://careers.google.com/1",
		Salary:   "$200k",
		Location: "Zurich",
	}

	scenarios := map[string]struct {
		input string
		want  []results.Job
	}{
		"with header": {
			input: "Title,Company,Link,Salary,Location\n" +
				"Software Engineer,Google,https://careers.google.com/1,$200k,Zurich\n",
			want: []results.Job{google},
		},
		"without header": {
			input: "Software Engineer,Google,https://careers.google.com/1,$200k,Zurich\n",
			want:  []results.Job{google},
		},
		"lower case header": {
			input: "title,company,link,salary,location\n",
			want:  []results.Job{},
		},
		"empty file": {
			input: "",
			want:  []results.Job{},
		},
		"quoted fields and extra columns": {
			input: `"Engineer, Backend",Meta,https://meta.com/2,"$150,000",Remote,extra` + "\n",
			want: []results.Job{{
				Title:    "Engineer, Backend",
				Company:  "Meta",
				Link:     "https://meta.com/2",
				Salary:   "$150,000",
				Location: "Remote",
			}},
		},
		"blank lines skipped": {
			input: "a,b,c,d,e\n\nf,g,h,i,j\n",
			want: []results.Job{
				{Title: "a", Company: "b", Link: "c", Salary: "d", Location: "e"},
				{Title: "f", Company: "g", Link: "h", Salary: "i", Location: "j"},
			},
		},
		"header only recognised on first row": {
			input: "a,b,c,d,e\ntitle,company,link,salary,location\n",
			want: []results.Job{
				{Title: "a", Company: "b", Link: "c", Salary: "d", Location: "e"},
				{Title: "title", Company: "company", Link: "link", Salary: "salary", Location: "location"},
			},
		},
	}

	for scenario, config := range scenarios {
		t.Run(scenario, func(t *testing.T) {
			got, err := results.Read(strings.NewReader(config.input))
			require.NoError(t, err)
			require.Equal(t, config.want, got)
		})
	}
}

func TestRead_ShortRowRejectsWholeFile(t *testing.T) {
	input := "Title,Company,Link,Salary,Location\n" +
		"a,b,c,d,e\n" +
		"only,three,columns\n"

	got, err := results.Read(strings.NewReader(input))
	require.Nil(t, got)
	require.ErrorIs(t, err, results.ErrMalformedRow)

	var rowErr *results.MalformedRowError
	require.ErrorAs(t, err, &rowErr)
	require.Equal(t, 3, rowErr.Line)
	require.Equal(t, 3, rowErr.Columns)
}

func TestReadFile(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		got, err := results.ReadFile(filepath.Join(t.TempDir(), "jobs.csv"))
		require.NoError(t, err)
		require.NotNil(t, got)
		require.Empty(t, got)
	})

	t.Run("existing file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "jobs.csv")
		require.NoError(t, os.WriteFile(path, []byte("SRE,Google,https://g.co/1,,London\n"), 0o644))

		got, err := results.ReadFile(path)
		require.NoError(t, err)
		require.Equal(t, []results.Job{{
			Title:    "SRE",
			Company:  "Google",
			Link:     "https://g.co/1",
			Location: "London",
		}}, got)
	})

	t.Run("path is a directory", func(t *testing.T) {
		_, err := results.ReadFile(t.TempDir())
		require.Error(t, err)
	})
}
