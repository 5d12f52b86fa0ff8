package orderbook

// Trade is one fill, recorded from the maker's side: the maker gave
// AmountGive of AssetOffered and received AmountReceive of AssetWanted.
type Trade struct {
	AssetOffered  AssetID
	AssetWanted   AssetID
	AmountGive    uint64
	AmountReceive uint64
	TakerOrderID  uint64
	MakerOrderID  uint64
}
