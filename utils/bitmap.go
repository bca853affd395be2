package utils

import "github.com/RoaringBitmap/roaring/v2/roaring64"

// BitmapOf collects positive ids into a bitmap; duplicates collapse and other ids are dropped
func BitmapOf(ids ...[]int64) *roaring64.Bitmap {
	bm := roaring64.New()
	for _, list := range ids {
		for _, id := range list {
			if id > 0 {
				bm.Add(uint64(id))
			}
		}
	}
	return bm
}

// BitmapIDs lists the ids of a bitmap in ascending order
func BitmapIDs(bm *roaring64.Bitmap) []int64 {
	out := make([]int64, 0, bm.GetCardinality())
	it := bm.Iterator()
	for it.HasNext() {
		out = append(out, int64(it.Next()))
	}
	return out
}
