package sqlguard

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateQueryVerbs(t *testing.T) {
	valid := []string{
		"SELECT * FROM users",
		"SELECT id, name FROM bookings WHERE bot_id = :bot_id",
		"select count(*) from stats",
		"  SELECT service, slot FROM bookings ORDER BY created_at  ",
		"WITH recent AS (SELECT * FROM bookings) SELECT * FROM recent",
	}
	for _, sql := range valid {
		t.Run(sql, func(t *testing.T) {
			_, err := Validate(sql, ModeQuery, nil)
			assert.NoError(t, err)
		})
	}

	invalid := []string{
		"INSERT INTO users (name) VALUES ('test')",
		"UPDATE users SET name = 'new'",
		"DELETE FROM users",
		"EXEC xp_cmdshell('rm -rf /')",
		"CALL dangerous_procedure()",
	}
	for _, sql := range invalid {
		t.Run(sql, func(t *testing.T) {
			_, err := Validate(sql, ModeQuery, nil)
			assert.ErrorIs(t, err, ErrVerbNotAllowed)
		})
	}
}

func TestValidateExecVerbs(t *testing.T) {
	vars := map[string]any{"service": "massage", "slot": "2024-01-15 14:00", "name": "x", "id": 1}

	valid := []string{
		"INSERT INTO bookings (service, user_id) VALUES (:service, :user_id)",
		"insert into logs (message) values ('test')",
		"UPDATE bookings SET slot = :slot WHERE bot_id = :bot_id",
		"DELETE FROM bookings WHERE id = :id",
		"delete from old_data where created_at < now()",
	}
	for _, sql := range valid {
		t.Run(sql, func(t *testing.T) {
			_, err := Validate(sql, ModeExec, vars)
			assert.NoError(t, err)
		})
	}

	_, err := Validate("SELECT * FROM users", ModeExec, nil)
	assert.ErrorIs(t, err, ErrVerbNotAllowed)
}

func TestValidateForbiddenKeywords(t *testing.T) {
	forbidden := map[string]string{
		"DROP":     "SELECT drop FROM t",
		"CREATE":   "SELECT * FROM t WHERE create = 1",
		"ALTER":    "SELECT alter FROM t",
		"TRUNCATE": "SELECT * FROM truncate",
		"GRANT":    "SELECT grant FROM t",
		"REVOKE":   "SELECT revoke FROM t",
		"COPY":     "SELECT copy FROM t",
		"VACUUM":   "SELECT vacuum FROM t",
	}
	for kw, sql := range forbidden {
		t.Run(kw, func(t *testing.T) {
			_, err := Validate(sql, ModeQuery, nil)
			assert.ErrorIs(t, err, ErrForbiddenKeyword)
		})
	}

	t.Run("keyword as substring is allowed", func(t *testing.T) {
		_, err := Validate("SELECT created_at, dropped_count FROM stats", ModeQuery, nil)
		assert.NoError(t, err)
	})
}

func TestValidateMultipleStatements(t *testing.T) {
	dangerous := []string{
		"SELECT * FROM users; DROP TABLE users;",
		"SELECT * FROM bookings; DELETE FROM bookings;",
		"SELECT * FROM users; SELECT * FROM admins",
	}
	for _, sql := range dangerous {
		t.Run(sql, func(t *testing.T) {
			_, err := Validate(sql, ModeQuery, nil)
			assert.ErrorIs(t, err, ErrMultipleStatements)
		})
	}

	t.Run("single trailing semicolon is allowed", func(t *testing.T) {
		st, err := Validate("SELECT * FROM users;", ModeQuery, nil)
		require.NoError(t, err)
		assert.Equal(t, "SELECT * FROM users LIMIT 100", st.SQL)
	})
}

func TestValidateEmpty(t *testing.T) {
	for _, sql := range []string{"", "   \n\t   ", " ; "} {
		_, err := Validate(sql, ModeQuery, nil)
		assert.ErrorIs(t, err, ErrEmptyStatement)
	}
}

func TestRewriteBinds(t *testing.T) {
	t.Run("positional order follows first appearance", func(t *testing.T) {
		vars := map[string]any{"service": "massage", "slot": "2024-01-15 14:00"}
		st, err := Validate(
			"INSERT INTO bookings(bot_id, user_id, service, slot) VALUES(:bot_id, :user_id, :service, :slot)",
			ModeExec, vars,
		)
		require.NoError(t, err)
		assert.Equal(t, "INSERT INTO bookings(bot_id, user_id, service, slot) VALUES($1, $2, $3, $4)", st.SQL)
		assert.Equal(t, []string{"bot_id", "user_id", "service", "slot"}, st.Binds)
	})

	t.Run("repeated name shares a position", func(t *testing.T) {
		st, err := Validate(
			"DELETE FROM bookings WHERE bot_id=:bot_id AND user_id=:user_id AND id=(SELECT id FROM bookings WHERE bot_id=:bot_id AND user_id=:user_id ORDER BY created_at DESC LIMIT 1)",
			ModeExec, nil,
		)
		require.NoError(t, err)
		assert.Equal(t, []string{"bot_id", "user_id"}, st.Binds)
		assert.Contains(t, st.SQL, "id=(SELECT id FROM bookings WHERE bot_id=$1 AND user_id=$2")
	})

	t.Run("type casts are not binds", func(t *testing.T) {
		vars := map[string]any{"slot": "2024-01-15 14:00"}
		st, err := Validate(
			"INSERT INTO bookings(bot_id, user_id, slot) VALUES(:bot_id, :user_id, :slot::timestamptz)",
			ModeExec, vars,
		)
		require.NoError(t, err)
		assert.Equal(t, "INSERT INTO bookings(bot_id, user_id, slot) VALUES($1, $2, $3::timestamptz)", st.SQL)
		assert.Equal(t, []string{"bot_id", "user_id", "slot"}, st.Binds)
	})

	t.Run("unknown bind fails", func(t *testing.T) {
		_, err := Validate("SELECT * FROM t WHERE x = :nope", ModeQuery, map[string]any{"service": "x"})
		require.ErrorIs(t, err, ErrBindMissing)
		assert.Contains(t, err.Error(), ":nope")
	})

	t.Run("bot_id and user_id always allowed", func(t *testing.T) {
		_, err := Validate("SELECT * FROM t WHERE bot_id = :bot_id AND user_id = :user_id", ModeQuery, nil)
		assert.NoError(t, err)
	})

	t.Run("time literal is not a bind", func(t *testing.T) {
		st, err := Validate("SELECT * FROM slots WHERE label = '14:00'", ModeQuery, nil)
		require.NoError(t, err)
		assert.Empty(t, st.Binds)
	})
}

func TestLimitInjection(t *testing.T) {
	t.Run("appended when absent", func(t *testing.T) {
		st, err := Validate("SELECT service, slot FROM bookings WHERE bot_id = :bot_id", ModeQuery, nil)
		require.NoError(t, err)
		assert.Equal(t, "SELECT service, slot FROM bookings WHERE bot_id = $1 LIMIT 100", st.SQL)
	})

	t.Run("preserved when present", func(t *testing.T) {
		st, err := Validate("SELECT * FROM bookings ORDER BY created_at DESC LIMIT 5", ModeQuery, nil)
		require.NoError(t, err)
		assert.Equal(t, "SELECT * FROM bookings ORDER BY created_at DESC LIMIT 5", st.SQL)
	})

	t.Run("never appended in exec mode", func(t *testing.T) {
		st, err := Validate("DELETE FROM bookings WHERE bot_id = :bot_id", ModeExec, nil)
		require.NoError(t, err)
		assert.Equal(t, "DELETE FROM bookings WHERE bot_id = $1", st.SQL)
	})
}

func TestHash(t *testing.T) {
	t.Run("stable across whitespace", func(t *testing.T) {
		a := Hash("SELECT   *\nFROM users\t WHERE id = :user_id")
		b := Hash("SELECT * FROM users WHERE id = :user_id")
		assert.Equal(t, a, b)
	})

	t.Run("case preserved", func(t *testing.T) {
		assert.NotEqual(t, Hash("SELECT * FROM users"), Hash("select * from users"))
	})

	t.Run("fixed width hex", func(t *testing.T) {
		h := Hash("SELECT 1")
		assert.Len(t, h, 16)
		assert.Regexp(t, "^[0-9a-f]{16}$", h)
	})

	t.Run("statement hash matches raw text hash", func(t *testing.T) {
		sql := "SELECT * FROM bookings WHERE bot_id = :bot_id LIMIT 3"
		st, err := Validate(sql, ModeQuery, nil)
		require.NoError(t, err)
		assert.Equal(t, Hash(sql), st.Hash)
	})
}
