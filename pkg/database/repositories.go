// Repositories - convenience wrapper giving a single point of access to
// every repository type.

package database

// Repositories holds all repository instances for a given client.
type Repositories struct {
	Transactions *TransactionRepository
	UTXOs        *UTXORepository
	Blocks       *BlockRepository
	Consensus    *ConsensusRepository
}

// NewRepositories creates all repositories with the given client.
func NewRepositories(client *Client) *Repositories {
	return &Repositories{
		Transactions: NewTransactionRepository(client),
		UTXOs:        NewUTXORepository(client),
		Blocks:       NewBlockRepository(client),
		Consensus:    NewConsensusRepository(client),
	}
}
