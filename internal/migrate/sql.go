package migrate

// Table layouts follow Liquibase so that existing tooling can read them.
const (
	createLockTable = `
CREATE TABLE IF NOT EXISTS databasechangeloglock (
	id          INTEGER      NOT NULL PRIMARY KEY,
	locked      BOOLEAN      NOT NULL,
	lockgranted TIMESTAMP,
	lockedby    VARCHAR(255)
);
INSERT INTO databasechangeloglock (id, locked) VALUES (1, FALSE) ON CONFLICT (id) DO NOTHING`

	createChangelogTable = `
CREATE TABLE IF NOT EXISTS databasechangelog (
	id            VARCHAR(255) NOT NULL,
	author        VARCHAR(255) NOT NULL,
	filename      VARCHAR(255) NOT NULL,
	dateexecuted  TIMESTAMP    NOT NULL,
	orderexecuted INTEGER      NOT NULL,
	exectype      VARCHAR(10)  NOT NULL,
	md5sum        VARCHAR(35),
	description   VARCHAR(255),
	comments      VARCHAR(255),
	tag           VARCHAR(255),
	liquibase     VARCHAR(20),
	contexts      VARCHAR(255),
	labels        VARCHAR(255),
	deployment_id VARCHAR(10)
)`

	acquireLockSQL = `
UPDATE databasechangeloglock
SET locked = TRUE, lockgranted = now(), lockedby = $1
WHERE id = 1 AND locked = FALSE`

	releaseLockSQL = `
UPDATE databasechangeloglock
SET locked = FALSE, lockgranted = NULL, lockedby = NULL
WHERE id = 1`

	lockHolder = `SELECT COALESCE(lockedby, '') FROM databasechangeloglock WHERE id = 1`

	selectApplied = `
SELECT id, author, filename, COALESCE(md5sum, ''), orderexecuted, exectype
FROM databasechangelog
ORDER BY orderexecuted, dateexecuted`

	insertRan = `
INSERT INTO databasechangelog
	(id, author, filename, dateexecuted, orderexecuted, exectype, md5sum,
	 description, comments, liquibase, contexts, deployment_id)
VALUES ($1, $2, $3, now(), $4, $5, $6, $7, $8, 'pgsourcegen', $9, $10)`

	updateRan = `
UPDATE databasechangelog
SET dateexecuted = now(), orderexecuted = $1, exectype = $2, md5sum = $3, deployment_id = $4
WHERE id = $5 AND author = $6 AND filename = $7`
)
