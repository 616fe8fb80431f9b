package postgres

import "testing"

func TestOptionsFromEnv(t *testing.T) {
	t.Setenv("PGHOST", "db.local")
	t.Setenv("PGPORT", "")
	t.Setenv("PGUSER", "")
	t.Setenv("PGDATABASE", "shows")
	t.Setenv("PGSSLMODE", "")

	o := OptionsFromEnv()
	if o.Host != "db.local" || o.Port != "5432" || o.User != "livemix" || o.Database != "shows" || o.SSLMode != "disable" {
		t.Errorf("unexpected options %+v", o)
	}
}

func TestConnString(t *testing.T) {
	tests := []struct {
		name string
		opts Options
		want string
	}{
		{
			name: "no password",
			opts: Options{Host: "h", Port: "1", User: "u", Database: "d"},
			want: "host=h port=1 user=u dbname=d sslmode=disable",
		},
		{
			name: "plain password",
			opts: Options{Host: "h", Port: "1", User: "u", Database: "d", Password: "secret", SSLMode: "require"},
			want: "host=h port=1 user=u password=secret dbname=d sslmode=require",
		},
		{
			name: "quoted password",
			opts: Options{Host: "h", Port: "1", User: "u", Database: "d", Password: `it's a pass`},
			want: `host=h port=1 user=u password='it\'s a pass' dbname=d sslmode=disable`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.opts.ConnString(); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestClampLimit(t *testing.T) {
	for in, want := range map[int]int{0: 200, -1: 200, 50: 50, 10000: 10000, 20000: 10000} {
		if got := ClampLimit(in); got != want {
			t.Errorf("ClampLimit(%d) = %d, want %d", in, got, want)
		}
	}
}
