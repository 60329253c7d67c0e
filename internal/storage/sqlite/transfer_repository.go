package sqlite

import "database/sql"

// TransferRepository is the SQLite transfer journal.
type TransferRepository struct {
	*TransferReadRepository
	*TransferWriteRepository
}

func NewTransferRepository(dbConn *sql.DB) *TransferRepository {
	return &TransferRepository{
		TransferReadRepository:  NewTransferReadRepository(dbConn),
		TransferWriteRepository: NewTransferWriteRepository(dbConn),
	}
}
