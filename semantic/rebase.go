// Copyright 2018 Mark Wardle / Eldrix Ltd
//
//    Licensed under the Apache License, Version 2.0 (the "License");
//    you may not use this file except in compliance with the License.
//    You may obtain a copy of the License at
//
//        http://www.apache.org/licenses/LICENSE-2.0
//
//    Unless required by applicable law or agreed to in writing, software
//    distributed under the License is distributed on an "AS IS" BASIS,
//    WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
//    See the License for the specific language governing permissions and
//    limitations under the License.
//

package semantic

import (
	"github.com/wardle/go-semindex/store"
)

// reconcileRebase prepares a rebase commit for replay. The branch's own
// projection rows are stale relative to the new parent base: every
// branch-authored row version is ended at the commit timepoint, and the
// branch's versions-replaced set for projection rows is cleared so rows
// previously hidden from the old parent become visible from the new parent.
// Replay then re-hides or overwrites them as the branch's content demands.
func (u *Updater) reconcileRebase(c *store.Commit) error {
	path := c.Branch().Path
	ended := 0
	for qcs := range u.svc.StreamBranchQueryConcepts(path) {
		if qcs.Err != nil {
			return qcs.Err
		}
		c.EndQueryConceptVersion(qcs.QueryConceptDoc)
		ended++
	}
	c.ClearVersionsReplaced(store.KindQueryConcept)
	u.log.Debugw("rebase reconciliation", "path", path, "invalidated", ended)
	return nil
}
