// Package all wires all built-in storage backends into the storage factory.
//
// This package exists purely for side effects: importing it (even as a blank
// import) runs the init functions of each concrete backend, which register
// their factories and DDL dialects with the storage package:
//
//   - "postgres" (kettle/internal/storage/postgres)
//   - "mssql"    (kettle/internal/storage/mssql)
//   - "sqlite"   (kettle/internal/storage/sqlite)
//   - "mysql"    (kettle/internal/storage/mysql)
//
// A binary that needs only a subset can import the backends it wants
// directly instead.
package all

import (
	_ "kettle/internal/storage/mssql"
	_ "kettle/internal/storage/mysql"
	_ "kettle/internal/storage/postgres"
	_ "kettle/internal/storage/sqlite"
)
