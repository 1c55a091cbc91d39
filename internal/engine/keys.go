package engine

import (
	"strconv"

	"github.com/alanyoungcy/predictx/internal/domain"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// Key layout. Market fields live in one partition per field, keyed by id:
//
//	mkt:count                       market counter
//	mkt:{field}:{id}                market field
//	esc:{payer}:{id}:{side}         payer-scoped pending credit
//	pos:{user}:{id}:{side}          position
//	hld:n:{id}                      holder index length
//	hld:{id}:{n}                    holder index entry "{holder}:{side}"
//
// The batch-scoped credit marker lives in invocation scratch memory under
// esc:batch:{invocation}:{payer}:{id}:{side} and is never persisted.
const (
	keyMarketCount = "mkt:count"

	pfxQuestion    = "mkt:q:"
	pfxDescription = "mkt:d:"
	pfxCategory    = "mkt:cat:"
	pfxResolveDate = "mkt:rd:"
	pfxOracleURL   = "mkt:url:"
	pfxCreator     = "mkt:cr:"
	pfxCreatedAt   = "mkt:at:"
	pfxYesShares   = "mkt:yes:"
	pfxNoShares    = "mkt:no:"
	pfxResolved    = "mkt:res:"
	pfxOutcome     = "mkt:out:"
	pfxPaid        = "mkt:paid:"
	pfxRemainder   = "mkt:rem:"
	pfxRequest     = "mkt:req:"

	pfxPending     = "esc:"
	pfxBatch       = "esc:batch:"
	pfxPosition    = "pos:"
	pfxHolderCount = "hld:n:"
	pfxHolder      = "hld:"
)

func poolKey(id string, side domain.Side) string {
	if side == domain.SideYes {
		return pfxYesShares + id
	}
	return pfxNoShares + id
}

func pendingKey(payer common.Address, id string, side domain.Side) string {
	return pfxPending + payer.Hex() + ":" + id + ":" + side.String()
}

func batchKey(inv uuid.UUID, payer common.Address, id string, side domain.Side) string {
	return pfxBatch + inv.String() + ":" + payer.Hex() + ":" + id + ":" + side.String()
}

func positionKey(user common.Address, id string, side domain.Side) string {
	return pfxPosition + user.Hex() + ":" + id + ":" + side.String()
}

func holderKey(id string, n int64) string {
	return pfxHolder + id + ":" + strconv.FormatInt(n, 10)
}

// canonicalID reports whether id is a positive decimal integer without sign
// or leading zeros.
func canonicalID(id string) bool {
	n, err := strconv.ParseUint(id, 10, 64)
	return err == nil && n > 0 && strconv.FormatUint(n, 10) == id
}
