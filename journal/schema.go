package journal

const Schema = `
CREATE TABLE IF NOT EXISTS closed_positions (
	position_id TEXT PRIMARY KEY,
	symbol TEXT NOT NULL,
	system INTEGER NOT NULL,
	direction TEXT NOT NULL,
	units INTEGER NOT NULL,
	entry_price REAL NOT NULL,
	exit_price REAL NOT NULL,
	open_time DATETIME NOT NULL,
	close_time DATETIME NOT NULL,
	realized_pl REAL NOT NULL,
	r_multiple REAL NOT NULL,
	reason TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_closed_close_time ON closed_positions(close_time);
CREATE INDEX IF NOT EXISTS idx_closed_symbol ON closed_positions(symbol);
`
