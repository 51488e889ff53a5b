// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package meta

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestUpvertedFilesSingleFile(t *testing.T) {
	require := require.New(t)

	info := Info{Name: "movie.mp4", Length: 12345}
	files := info.UpvertedFiles()
	require.Len(files, 1)
	require.Equal(int64(12345), files[0].Length)
	require.Nil(files[0].Path)
	require.False(info.IsDir())
	require.Equal(int64(12345), info.TotalLength())
}

func TestUpvertedFilesMultiFile(t *testing.T) {
	require := require.New(t)

	info := Info{
		Name: "album",
		Files: []FileInfo{
			{Length: 100, Path: []string{"a.mp3"}},
			{Length: 200, Path: []string{"sub", "b.mp3"}},
		},
	}
	require.True(info.IsDir())
	require.Equal(int64(300), info.TotalLength())
	require.Equal(info.Files, info.UpvertedFiles())
}

func TestValidateRejectsMismatchedPieceCount(t *testing.T) {
	require := require.New(t)

	info := Info{
		PieceLength: 10,
		Pieces:      make([]byte, 20), // claims 1 piece
		Name:        "x",
		Length:      25,               // needs 3 pieces of length 10
	}
	require.Error(info.Validate())
}
